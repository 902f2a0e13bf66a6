// Package syncengine implements the synchronization engine (spec §4.F),
// the heart of the connection subsystem: the per-account state machine
// that drives initial sync, applies the ongoing event stream to the
// terminal state mirror, history storage and health monitor, and retries
// with capped exponential backoff on failure.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/metarpc/terminal-sdk/config"
	"github.com/metarpc/terminal-sdk/health"
	"github.com/metarpc/terminal-sdk/history"
	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/model"
	"github.com/metarpc/terminal-sdk/terminalerrors"
	"github.com/metarpc/terminal-sdk/terminalstate"
	"github.com/metarpc/terminal-sdk/transport"
	"github.com/metarpc/terminal-sdk/wire"
)

// State is one account connection's synchronization state (spec §4.F).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSynchronizing
	StateSynchronized
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSynchronizing:
		return "synchronizing"
	case StateSynchronized:
		return "synchronized"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// subscriptionSource supplies the symbols to re-subscribe to market data on
// reconnect (spec §4.F step 5). queryclient.Client satisfies this.
type subscriptionSource interface {
	Subscriptions() []string
}

// Engine drives one account's synchronization state machine.
type Engine struct {
	accountID string
	transport transport.Transport
	opts      config.Options
	logger    logging.Logger

	state        *terminalstate.State
	historyStore history.Storage
	healthMon    *health.Monitor
	subs         subscriptionSource

	mu                                 sync.Mutex
	machineState                       State
	shouldSynchronize                  string // opaque key; "" means none active
	retryBackoff                       *backoff.Backoff
	retryTimer                         *time.Timer
	lastSynchronizationID              string
	lastDisconnectedSynchronizationID  string
	ordersSynced                       map[string]bool
	dealsSynced                        map[string]bool
	closed                             bool

	unsubscribeTransport func()
}

// New builds an Engine for accountID. It does not start anything; call
// Start to begin driving the state machine off transport lifecycle hooks.
func New(accountID string, t transport.Transport, opts config.Options, state *terminalstate.State, historyStore history.Storage, healthMon *health.Monitor, subs subscriptionSource, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Engine{
		accountID:    accountID,
		transport:    t,
		opts:         opts,
		logger:       logger,
		state:        state,
		historyStore: historyStore,
		healthMon:    healthMon,
		subs:         subs,
		machineState: StateIdle,
		ordersSynced: make(map[string]bool),
		dealsSynced:  make(map[string]bool),
	}
}

// Start subscribes to the account's event stream and transport lifecycle
// hooks, then waits for onConnected to trigger the startup sequence.
func (e *Engine) Start(ctx context.Context) {
	e.unsubscribeTransport = e.transport.Subscribe(e.accountID, e.handleEvent)

	onConnected := func() { go e.startupSequence(context.Background()) }
	onDisconnected := func() { e.handleDisconnected() }
	onReconnected := func() { e.handleReconnected(context.Background()) }

	e.transport.OnConnected(onConnected)
	e.transport.OnDisconnected(onDisconnected)
	e.transport.OnReconnected(onReconnected)
}

// startupSequence implements spec §4.F's numbered startup sequence,
// triggered by onConnected.
func (e *Engine) startupSequence(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	key := uuid.NewString()
	e.shouldSynchronize = key
	e.retryBackoff = &backoff.Backoff{
		Min:    e.opts.RetryInitial(),
		Max:    e.opts.RetryMax(),
		Factor: 2,
		Jitter: false,
	}
	e.machineState = StateConnecting
	e.mu.Unlock()

	e.attemptSynchronize(ctx, key)
}

// attemptSynchronize runs one synchronize attempt. On failure it schedules
// a retry after the current backoff duration, provided shouldSynchronize
// still matches key and the engine is not closed (spec §4.F, testable
// properties 6-7).
func (e *Engine) attemptSynchronize(ctx context.Context, key string) {
	e.mu.Lock()
	if e.closed || e.shouldSynchronize != key {
		e.mu.Unlock()
		return
	}
	e.machineState = StateSynchronizing
	e.mu.Unlock()

	if err := e.synchronizeOnce(ctx, key); err != nil {
		e.logger.Warn(ctx, "synchronize attempt failed, scheduling retry", map[string]any{
			"accountId": e.accountID, "error": err.Error(),
		})
		e.scheduleRetry(key)
		return
	}

	e.mu.Lock()
	e.machineState = StateSynchronized
	e.mu.Unlock()
}

func (e *Engine) scheduleRetry(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.shouldSynchronize != key {
		return
	}
	delay := e.retryBackoff.Duration()
	e.retryTimer = time.AfterFunc(delay, func() {
		e.attemptSynchronize(context.Background(), key)
	})
}

// synchronizeOnce performs steps 2-6 of the startup sequence once.
func (e *Engine) synchronizeOnce(ctx context.Context, key string) error {
	startingHistoryOrderTime, err := e.historyStore.LastHistoryOrderTime(ctx)
	if err != nil {
		return fmt.Errorf("read last history order time: %w", err)
	}
	startingDealTime, err := e.historyStore.LastDealTime(ctx)
	if err != nil {
		return fmt.Errorf("read last deal time: %w", err)
	}

	synchronizationID := uuid.NewString()

	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout())
	defer cancel()

	_, err = e.transport.Request(reqCtx, e.accountID, wire.RequestSynchronize, map[string]any{
		"synchronizationId":        synchronizationID,
		"startingHistoryOrderTime": startingHistoryOrderTime,
		"startingDealTime":         startingDealTime,
	})
	if err != nil {
		return fmt.Errorf("synchronize request: %w", err)
	}

	e.mu.Lock()
	if e.closed || e.shouldSynchronize != key {
		e.mu.Unlock()
		return &terminalerrors.ConnectionClosed{AccountID: e.accountID}
	}
	e.lastSynchronizationID = synchronizationID
	e.mu.Unlock()

	// Re-subscribe to every tracked market-data symbol. Re-entrant: a
	// failure here does not abort the startup sequence (spec §4.F step 5).
	if e.subs != nil {
		for _, symbol := range e.subs.Subscriptions() {
			subCtx, subCancel := context.WithTimeout(ctx, e.opts.RequestTimeout())
			_, subErr := e.transport.Request(subCtx, e.accountID, wire.RequestSubscribeToMarketData, map[string]any{"symbol": symbol})
			subCancel()
			if subErr != nil {
				e.logger.Warn(ctx, "resubscribe to market data failed, continuing", map[string]any{
					"accountId": e.accountID, "symbol": symbol, "error": subErr.Error(),
				})
			}
		}
	}

	e.mu.Lock()
	e.retryBackoff.Reset()
	e.mu.Unlock()

	return nil
}

// handleDisconnected implements the §4.F disconnect transition.
func (e *Engine) handleDisconnected() {
	e.mu.Lock()
	e.lastDisconnectedSynchronizationID = e.lastSynchronizationID
	e.lastSynchronizationID = ""
	e.shouldSynchronize = ""
	e.machineState = StateDisconnected
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	e.state.OnDisconnected()
}

// handleReconnected implements the §4.F reconnect transition: re-issue
// subscribe. The transport fires onConnected while re-dialing, before it
// fires onReconnected, so the fresh startup sequence that onConnected
// starts runs concurrently with this request.
func (e *Engine) handleReconnected(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout())
	defer cancel()
	if _, err := e.transport.Request(reqCtx, e.accountID, wire.RequestSubscribe, map[string]any{}); err != nil {
		e.logger.Warn(ctx, "resubscribe after reconnect failed", map[string]any{"accountId": e.accountID, "error": err.Error()})
	}
}

// handleEvent dispatches one decoded, already-ordered envelope to the
// owned collaborators (terminal state, history, health) and updates the
// engine's own synchronization bookkeeping.
func (e *Engine) handleEvent(env wire.Envelope) {
	ctx := context.Background()

	switch env.Type {
	case "gapDetected":
		e.handleGap(env)
		return

	case wire.TypeDisconnected:
		e.handleDisconnected()
		return

	case wire.TypeAccountInformation:
		var info model.AccountInformation
		if decode(e, env, &info) {
			e.state.OnAccountInformationUpdated(info)
		}

	case wire.TypePositions:
		var positions []model.Position
		if decode(e, env, &positions) {
			e.state.OnPositionsReplaced(positions)
		}

	case wire.TypeUpdate:
		e.handleUpdate(env)

	case wire.TypePositionRemoved:
		var payload struct {
			ID string `json:"id"`
		}
		if decode(e, env, &payload) {
			e.state.OnPositionRemoved(payload.ID)
		}

	case wire.TypeOrders:
		var orders []model.Order
		if decode(e, env, &orders) {
			e.state.OnOrdersReplaced(orders)
		}

	case wire.TypeOrderCompleted:
		var payload struct {
			ID string `json:"id"`
		}
		if decode(e, env, &payload) {
			e.state.OnOrderCompleted(payload.ID)
		}

	case wire.TypeSymbolSpecifications:
		var specs []model.SymbolSpecification
		if decode(e, env, &specs) {
			for _, s := range specs {
				e.state.OnSymbolSpecificationUpdated(s)
			}
		}

	case wire.TypePrices:
		var prices []model.SymbolPrice
		if decode(e, env, &prices) {
			e.state.OnSymbolPricesUpdated(prices)
		}

	case wire.TypeDeals:
		var deals []model.Deal
		if decode(e, env, &deals) {
			for _, d := range deals {
				if err := e.historyStore.OnDealAdded(ctx, d); err != nil {
					e.logger.Error(ctx, err, "apply deal to history storage failed", map[string]any{"accountId": e.accountID})
				}
			}
		}

	case wire.TypeHistoryOrders:
		var orders []model.HistoryOrder
		if decode(e, env, &orders) {
			for _, o := range orders {
				if err := e.historyStore.OnHistoryOrderAdded(ctx, o); err != nil {
					e.logger.Error(ctx, err, "apply history order to history storage failed", map[string]any{"accountId": e.accountID})
				}
			}
		}

	case wire.TypeSynchronizationStarted:
		// Orderer reset already happened at the transport layer.

	case wire.TypeOrderSynchronizationFinished:
		e.markFinished(e.ordersSynced, env)

	case wire.TypeDealSynchronizationFinished:
		e.markFinished(e.dealsSynced, env)

	case wire.TypeStatus:
		var payload struct {
			ConnectedToBroker bool `json:"connectedToBroker"`
		}
		if decode(e, env, &payload) {
			e.state.OnBrokerConnectionStatusChanged(payload.ConnectedToBroker)
		}

	case wire.TypeServerHealthStatus:
		var payload map[string]any
		if decode(e, env, &payload) && e.healthMon != nil {
			e.healthMon.OnServerHealthStatus(payload)
		}
	}
}

func (e *Engine) handleUpdate(env wire.Envelope) {
	var payload struct {
		Position *model.Position `json:"position,omitempty"`
		Order    *model.Order    `json:"order,omitempty"`
	}
	if !decode(e, env, &payload) {
		return
	}
	if payload.Position != nil {
		e.state.OnPositionUpdated(*payload.Position)
	}
	if payload.Order != nil {
		e.state.OnOrderUpdated(*payload.Order)
	}
}

func (e *Engine) markFinished(set map[string]bool, env wire.Envelope) {
	var payload struct {
		SynchronizationID string `json:"synchronizationId"`
	}
	if !decode(e, env, &payload) {
		return
	}
	e.mu.Lock()
	set[payload.SynchronizationID] = true
	e.mu.Unlock()
}

// decode unmarshals env.Data into out, logging and returning false on
// failure rather than propagating (spec §7: decoding errors are logged,
// the offending event dropped).
func decode(e *Engine, env wire.Envelope, out any) bool {
	if len(env.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		e.logger.Error(context.Background(), err, "decode event payload failed, dropping event", map[string]any{
			"accountId": e.accountID, "type": env.Type,
		})
		return false
	}
	return true
}

// handleGap treats a packet-orderer gap as a lost-event condition and
// initiates a fresh synchronize with a new synchronizationId (spec §4.F).
func (e *Engine) handleGap(env wire.Envelope) {
	e.logger.Warn(context.Background(), "packet gap detected, resynchronizing", map[string]any{"accountId": e.accountID})
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	go e.startupSequence(context.Background())
}

// IsSynchronized reports whether synchronizationId has both order- and
// deal-synchronization-finished signals (spec §4.F). An empty id resolves
// to lastSynchronizationID, falling back to
// lastDisconnectedSynchronizationID.
func (e *Engine) IsSynchronized(synchronizationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := synchronizationID
	if id == "" {
		id = e.lastSynchronizationID
	}
	if id == "" {
		id = e.lastDisconnectedSynchronizationID
	}
	if id == "" {
		return false
	}
	return e.ordersSynced[id] && e.dealsSynced[id]
}

// WaitSynchronizedOptions configures WaitSynchronized (spec §4.F).
type WaitSynchronizedOptions struct {
	SynchronizationID    string
	TimeoutInSeconds     int
	IntervalMilliseconds int
	ApplicationPattern   string
}

// WaitSynchronized polls IsSynchronized until true or timeout (spec §4.F).
// Defaults: interval 1000ms, timeout 300s.
func (e *Engine) WaitSynchronized(ctx context.Context, opts WaitSynchronizedOptions) error {
	interval := time.Duration(opts.IntervalMilliseconds) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	timeout := time.Duration(opts.TimeoutInSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if e.IsSynchronized(opts.SynchronizationID) {
			return e.waitServerSynchronized(ctx, opts)
		}
		if time.Now().After(deadline) {
			return &terminalerrors.TimeoutError{Operation: "waitSynchronized", Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return &terminalerrors.TimeoutError{Operation: "waitSynchronized", Timeout: timeout}
		case <-ticker.C:
		}
	}
}

// waitServerSynchronized performs the server-side handshake that follows
// the local flag turning true (spec §4.F). applicationPattern defaults to
// "RPC".
func (e *Engine) waitServerSynchronized(ctx context.Context, opts WaitSynchronizedOptions) error {
	pattern := opts.ApplicationPattern
	if pattern == "" {
		pattern = "RPC"
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout())
	defer cancel()
	_, err := e.transport.Request(reqCtx, e.accountID, wire.RequestWaitSynchronized, map[string]any{
		"applicationPattern": pattern,
	})
	return err
}

// Close implements §4.F close semantics: mark closed, stop retry timers,
// unsubscribe at the transport, stop the health monitor. After Close
// returns, no further synchronize request is ever sent on this engine,
// regardless of queued timers (testable property 7).
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.shouldSynchronize = ""
	e.machineState = StateClosed
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	if e.unsubscribeTransport != nil {
		e.unsubscribeTransport()
	}
	if e.healthMon != nil {
		e.healthMon.Stop()
	}
	e.state.Close(ctx)
	return nil
}

// MachineState returns the current state machine state, for diagnostics
// and tests.
func (e *Engine) MachineState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machineState
}
