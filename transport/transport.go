// Package transport implements the framed, bidirectional message channel
// to the server (spec §4.A): request/response correlation, per-account
// event delivery ordered by the packet orderer, and automatic reconnection
// with capped exponential backoff.
package transport

import (
	"context"

	"github.com/metarpc/terminal-sdk/wire"
)

// Listener receives events for one account, in the order the orderer
// releases them. Implementations must not block for long: the read loop
// delivers to all of an account's listeners synchronously.
type Listener func(wire.Envelope)

// Transport is the contract the synchronization engine and query/trade
// clients depend on. It is shared by every connection on a host (spec §3:
// "weakly referenced by each connection").
type Transport interface {
	// Connect establishes the underlying socket. It blocks until the initial
	// handshake completes or ctx is done.
	Connect(ctx context.Context) error

	// Close tears the transport down. Outstanding Request calls fail with
	// terminalerrors.ConnectionClosed.
	Close() error

	// Request sends a client->server request and waits for the matching
	// response, honoring ctx's deadline. It fails with
	// terminalerrors.TimeoutError on deadline, or with
	// terminalerrors.NotConnectedError as soon as the socket is found down
	// while sending; it does not wait for the deadline in that case.
	Request(ctx context.Context, accountID, requestType string, payload any) (*wire.Envelope, error)

	// Subscribe registers a listener for an account's event stream. The
	// returned func removes it.
	Subscribe(accountID string, l Listener) (unsubscribe func())

	// OnConnected/OnDisconnected/OnReconnected register transport-lifecycle
	// hooks; the synchronization engine drives its state machine off these.
	OnConnected(func())
	OnDisconnected(func())
	OnReconnected(func())
}
