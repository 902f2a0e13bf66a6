package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/metarpc/terminal-sdk/authtoken"
	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/orderer"
	"github.com/metarpc/terminal-sdk/terminalerrors"
	"github.com/metarpc/terminal-sdk/wire"
)

// WebsocketTransport is the concrete Transport realized over a single
// persistent gorilla/websocket connection (spec §4.A / §6). On socket loss
// it runs a capped-exponential-backoff reconnect loop (jpillora/backoff)
// and fires OnReconnected on success; it never replays missed events — that
// is the synchronization engine's job.
type WebsocketTransport struct {
	url                   string
	tlsInsecureSkipVerify bool
	logger                logging.Logger

	orderer *orderer.Orderer

	writeMu sync.Mutex
	conn    *websocket.Conn
	connMu  sync.RWMutex

	pendingMu sync.Mutex
	pending   map[string]chan *wire.Envelope

	listenersMu sync.Mutex
	listeners   map[string]map[int]Listener
	nextSubID   int

	onConnectedMu    sync.Mutex
	onConnectedFns   []func()
	onDisconnectedFns []func()
	onReconnectedFns []func()

	closed chan struct{}
	closeOnce sync.Once

	authClaims   authtoken.Claims
	authClaimsOK bool
	authMu       sync.RWMutex
}

// NewWebsocketTransport builds a transport dialing wsURL on Connect.
func NewWebsocketTransport(wsURL string, tlsInsecureSkipVerify bool, packetOrderingTimeout time.Duration, logger logging.Logger) *WebsocketTransport {
	if logger == nil {
		logger = logging.NoOp()
	}
	t := &WebsocketTransport{
		url:                   wsURL,
		tlsInsecureSkipVerify: tlsInsecureSkipVerify,
		logger:                logger,
		pending:               make(map[string]chan *wire.Envelope),
		listeners:             make(map[string]map[int]Listener),
		closed:                make(chan struct{}),
	}
	t.orderer = orderer.New(packetOrderingTimeout, orderer.DefaultBufferCapacity, logger, t.emitGap)
	return t
}

func (t *WebsocketTransport) Connect(ctx context.Context) error {
	if err := t.dial(ctx); err != nil {
		return err
	}
	go t.readLoop()
	go t.gapSweeper()
	return nil
}

func (t *WebsocketTransport) dial(ctx context.Context) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: t.tlsInsecureSkipVerify},
	}

	u, err := url.Parse(t.url)
	if err != nil {
		return fmt.Errorf("parse transport url: %w", err)
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.runHooks(t.onConnectedFns)
	return nil
}

func (t *WebsocketTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.connMu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.connMu.Unlock()

		t.pendingMu.Lock()
		for id, ch := range t.pending {
			close(ch)
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	})
	return nil
}

func (t *WebsocketTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *WebsocketTransport) Request(ctx context.Context, accountID, requestType string, payload any) (*wire.Envelope, error) {
	if t.isClosed() {
		return nil, &terminalerrors.ConnectionClosed{AccountID: accountID}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &terminalerrors.ValidationError{Field: "payload", Message: err.Error()}
	}

	reqID := uuid.NewString()
	respCh := make(chan *wire.Envelope, 1)

	t.pendingMu.Lock()
	t.pending[reqID] = respCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, reqID)
		t.pendingMu.Unlock()
	}()

	env := wire.Envelope{Type: requestType, AccountID: accountID, RequestID: reqID, Data: data}

	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return nil, &terminalerrors.NotConnectedError{AccountID: accountID}
	}

	t.writeMu.Lock()
	writeErr := conn.WriteJSON(env)
	t.writeMu.Unlock()
	if writeErr != nil {
		return nil, &terminalerrors.NotConnectedError{AccountID: accountID}
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, &terminalerrors.ConnectionClosed{AccountID: accountID}
		}
		if resp.Error != nil {
			return nil, mapServerError(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, &terminalerrors.TimeoutError{Operation: requestType, Timeout: requestTimeoutOf(ctx)}
	case <-t.closed:
		return nil, &terminalerrors.ConnectionClosed{AccountID: accountID}
	}
}

func requestTimeoutOf(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return 0
}

func mapServerError(e *wire.Error) error {
	switch e.Code {
	case "NOT_FOUND":
		return &terminalerrors.NotFoundError{Entity: "resource", ID: ""}
	case "UNAUTHORIZED":
		return &terminalerrors.UnauthorizedError{Message: e.Message}
	case "TOO_MANY_REQUESTS":
		return &terminalerrors.TooManyRequestsError{}
	default:
		return &terminalerrors.InternalError{Message: e.Error()}
	}
}

func (t *WebsocketTransport) Subscribe(accountID string, l Listener) func() {
	t.listenersMu.Lock()
	if t.listeners[accountID] == nil {
		t.listeners[accountID] = make(map[int]Listener)
	}
	id := t.nextSubID
	t.nextSubID++
	t.listeners[accountID][id] = l
	t.listenersMu.Unlock()

	return func() {
		t.listenersMu.Lock()
		delete(t.listeners[accountID], id)
		t.listenersMu.Unlock()
	}
}

func (t *WebsocketTransport) OnConnected(fn func())    { t.addHook(&t.onConnectedFns, fn) }
func (t *WebsocketTransport) OnDisconnected(fn func())  { t.addHook(&t.onDisconnectedFns, fn) }
func (t *WebsocketTransport) OnReconnected(fn func())   { t.addHook(&t.onReconnectedFns, fn) }

func (t *WebsocketTransport) addHook(slot *[]func(), fn func()) {
	t.onConnectedMu.Lock()
	defer t.onConnectedMu.Unlock()
	*slot = append(*slot, fn)
}

func (t *WebsocketTransport) runHooks(fns []func()) {
	t.onConnectedMu.Lock()
	cp := append([]func(){}, fns...)
	t.onConnectedMu.Unlock()
	for _, fn := range cp {
		fn()
	}
}

// AuthClaims returns the claims parsed from the most recent "authenticated"
// event, if any (SPEC_FULL §4.N). It is diagnostic only.
func (t *WebsocketTransport) AuthClaims() (authtoken.Claims, bool) {
	t.authMu.RLock()
	defer t.authMu.RUnlock()
	return t.authClaims, t.authClaimsOK
}

// readLoop owns the single reader goroutine for the lifetime of one socket.
// On read error it notifies disconnection and starts the reconnect loop;
// readLoop itself exits once that happens, and a fresh one is started after
// a successful reconnect.
func (t *WebsocketTransport) readLoop() {
	for {
		t.connMu.RLock()
		conn := t.conn
		t.connMu.RUnlock()
		if conn == nil {
			return
		}

		var env wire.Envelope
		err := conn.ReadJSON(&env)
		if err != nil {
			if t.isClosed() {
				return
			}
			t.logger.Warn(context.Background(), "transport read error, reconnecting", map[string]any{"error": err.Error()})
			t.runHooks(t.onDisconnectedFns)
			t.reconnectLoop()
			return
		}

		t.dispatch(env)
	}
}

func (t *WebsocketTransport) dispatch(env wire.Envelope) {
	if env.Type == wire.TypeAuthenticated {
		t.handleAuthenticated(env)
	}

	if env.RequestID != "" {
		t.pendingMu.Lock()
		ch, ok := t.pending[env.RequestID]
		t.pendingMu.Unlock()
		if ok {
			ch <- &env
		}
		return
	}

	if env.AccountID == "" {
		return
	}

	if env.Type == wire.TypeSynchronizationStarted {
		var base struct {
			SequenceNumber uint64 `json:"sequenceNumber"`
		}
		_ = json.Unmarshal(env.Data, &base)
		start := base.SequenceNumber
		if start == 0 {
			start = 1
		}
		t.orderer.Reset(env.AccountID, start)
		t.deliver(env.AccountID, env)
		return
	}

	released := t.orderer.Receive(env.AccountID, env.SequenceNumber, env)
	for _, e := range released {
		t.deliver(env.AccountID, e)
	}
}

func (t *WebsocketTransport) handleAuthenticated(env wire.Envelope) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Token == "" {
		return
	}
	claims, err := authtoken.Parse(payload.Token)
	if err != nil {
		t.logger.Warn(context.Background(), "authenticated event carried an unparsable token", map[string]any{"error": err.Error()})
		return
	}
	t.authMu.Lock()
	t.authClaims = claims
	t.authClaimsOK = true
	t.authMu.Unlock()
}

func (t *WebsocketTransport) deliver(accountID string, env wire.Envelope) {
	t.listenersMu.Lock()
	ls := make([]Listener, 0, len(t.listeners[accountID]))
	for _, l := range t.listeners[accountID] {
		ls = append(ls, l)
	}
	t.listenersMu.Unlock()

	for _, l := range ls {
		l(env)
	}
}

func (t *WebsocketTransport) emitGap(accountID string, missing []uint64) {
	t.deliver(accountID, wire.Envelope{
		Type:      "gapDetected",
		AccountID: accountID,
		Data:      mustMarshal(map[string]any{"missing": missing}),
	})
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// gapSweeper periodically asks the orderer to check every account with a
// pending gap, since CheckGaps is driven by wall-clock elapsed time rather
// than by packet arrival.
func (t *WebsocketTransport) gapSweeper() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.listenersMu.Lock()
			accounts := make([]string, 0, len(t.listeners))
			for a := range t.listeners {
				accounts = append(accounts, a)
			}
			t.listenersMu.Unlock()
			for _, a := range accounts {
				t.orderer.CheckGaps(a)
			}
		}
	}
}

// reconnectLoop retries the dial with capped exponential backoff until it
// succeeds or the transport is closed.
func (t *WebsocketTransport) reconnectLoop() {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		if t.isClosed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := t.dial(ctx)
		cancel()
		if err == nil {
			t.runHooks(t.onReconnectedFns)
			go t.readLoop()
			return
		}
		d := b.Duration()
		t.logger.Warn(context.Background(), "reconnect attempt failed", map[string]any{"error": err.Error(), "next_delay": d.String()})
		select {
		case <-time.After(d):
		case <-t.closed:
			return
		}
	}
}
