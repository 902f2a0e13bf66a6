package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/wire"
)

// newEchoServer starts a websocket server that reads envelopes and hands them
// to respond, which may reply, push unsolicited events, or do nothing. It
// mirrors the minimal test-double server shape used against saxo_websocket.go
// in the reference pack: a real socket, not a mocked transport.
func newEchoServer(t *testing.T, respond func(conn *websocket.Conn, env wire.Envelope)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env wire.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			respond(conn, env)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRequestRoundTripsOverRealSocket(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, env wire.Envelope) {
		_ = conn.WriteJSON(wire.Envelope{Type: env.Type, AccountID: env.AccountID, RequestID: env.RequestID, Data: []byte(`{"ok":true}`)})
	})
	tr := NewWebsocketTransport(wsURL(t, srv), false, time.Second, logging.NoOp())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := tr.Request(ctx, "acct-1", "ping", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Data))
}

func TestRequestTimesOutWhenServerNeverReplies(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, env wire.Envelope) {})
	tr := NewWebsocketTransport(wsURL(t, srv), false, time.Second, logging.NoOp())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Request(ctx, "acct-1", "ping", nil)
	require.Error(t, err)
}

func TestSubscribeDeliversAccountScopedEvents(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, env wire.Envelope) {
		_ = conn.WriteJSON(wire.Envelope{Type: "update", AccountID: "acct-1", SequenceNumber: 1, Data: []byte(`{}`)})
	})
	tr := NewWebsocketTransport(wsURL(t, srv), false, time.Second, logging.NoOp())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	received := make(chan wire.Envelope, 1)
	unsubscribe := tr.Subscribe("acct-1", func(e wire.Envelope) { received <- e })
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := tr.Request(ctx, "acct-1", "trigger", nil)
	require.Error(t, err, "the server in this test never answers the trigger request, only pushes the update")

	select {
	case env := <-received:
		assert.Equal(t, "update", env.Type)
		assert.Equal(t, "acct-1", env.AccountID)
	case <-time.After(time.Second):
		t.Fatal("expected subscribed listener to receive the pushed event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, env wire.Envelope) {
		_ = conn.WriteJSON(wire.Envelope{Type: "update", AccountID: "acct-1", SequenceNumber: 1, Data: []byte(`{}`)})
	})
	tr := NewWebsocketTransport(wsURL(t, srv), false, time.Second, logging.NoOp())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	received := make(chan wire.Envelope, 4)
	unsubscribe := tr.Subscribe("acct-1", func(e wire.Envelope) { received <- e })
	unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _ = tr.Request(ctx, "acct-1", "trigger", nil)

	select {
	case env := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRequestFailsImmediatelyAfterClose(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, env wire.Envelope) {})
	tr := NewWebsocketTransport(wsURL(t, srv), false, time.Second, logging.NoOp())
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Close())

	_, err := tr.Request(context.Background(), "acct-1", "ping", nil)
	require.Error(t, err)
}

func TestOnConnectedHookFiresOnConnect(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, env wire.Envelope) {})
	tr := NewWebsocketTransport(wsURL(t, srv), false, time.Second, logging.NoOp())

	fired := make(chan struct{}, 1)
	tr.OnConnected(func() { fired <- struct{}{} })

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected OnConnected hook to fire")
	}
}
