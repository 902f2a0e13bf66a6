// Package connection wires the per-account connection subsystem together:
// the terminal state mirror, history storage, health monitor, trade and
// query clients, all driven by one synchronization engine (spec §3, §4.F).
// A Connection exclusively owns the first three; it weakly references the
// transport, which outlives any single connection.
package connection

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/metarpc/terminal-sdk/config"
	"github.com/metarpc/terminal-sdk/health"
	"github.com/metarpc/terminal-sdk/history"
	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/queryclient"
	"github.com/metarpc/terminal-sdk/registry"
	"github.com/metarpc/terminal-sdk/syncengine"
	"github.com/metarpc/terminal-sdk/terminalstate"
	"github.com/metarpc/terminal-sdk/tradeclient"
	"github.com/metarpc/terminal-sdk/transport"
)

// Connection is the top-level facade a caller holds for one account.
type Connection struct {
	AccountID string

	State   *terminalstate.State
	History history.Storage
	Health  *health.Monitor

	Trade *tradeclient.Client
	Query *queryclient.Client

	engine    *syncengine.Engine
	registry  *registry.Registry[*Connection]
}

// statusSource adapts terminalstate.State + the monitor's own mirrored
// server-health object to health.StatusSource; quoteStreaming is derived
// from connectedToBroker since the wire protocol does not emit a distinct
// "quote streaming" boolean (spec §4.E treats the quadruple as a single
// per-tick sample, not four independently wired signals). health is
// assigned once after the Monitor it will be sampled by is constructed.
type statusSource struct {
	state  *terminalstate.State
	health *health.Monitor
}

func (s *statusSource) Sample() health.Sample {
	connected := s.state.Connected()
	connectedToBroker := s.state.ConnectedToBroker()
	serverHealthy := true
	if s.health != nil {
		if status := s.health.ServerHealthStatus(); status != nil {
			if v, ok := status["healthy"].(bool); ok {
				serverHealthy = v
			}
		}
	}
	return health.Sample{
		TerminalConnected: connected,
		BrokerConnected:   connectedToBroker,
		QuoteStreaming:    connectedToBroker,
		ServerHealthy:     serverHealthy,
	}
}

// Options configures the construction of a single Connection.
type Options struct {
	AccountID     string
	Config        config.Options
	Transport     transport.Transport
	HistoryStore  history.Storage // nil builds a fresh MemoryStorage
	Metrics       *health.Metrics // nil disables Prometheus export
	Logger        logging.Logger
	Registry      *registry.Registry[*Connection]
}

// New builds, but does not start, a Connection for one account.
func New(opts Options) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOp()
	}

	historyStore := opts.HistoryStore
	if historyStore == nil {
		historyStore = history.NewMemoryStorage()
	}

	state := terminalstate.New(opts.Config.StatusTimerTimeout(), logger)

	c := &Connection{
		AccountID: opts.AccountID,
		State:     state,
		History:   historyStore,
		registry:  opts.Registry,
	}

	src := &statusSource{state: state}
	healthMon := health.New(opts.Config.HealthSamplePeriod(), src, opts.Metrics, logger)
	src.health = healthMon
	c.Health = healthMon

	c.Trade = tradeclient.New(opts.Transport, opts.AccountID)
	c.Query = queryclient.New(opts.Transport, opts.AccountID)

	c.engine = syncengine.New(opts.AccountID, opts.Transport, opts.Config, state, historyStore, c.Health, c.Query, logger)

	return c
}

// Initialize starts the synchronization engine and health monitor. Callers
// normally reach this only through registry.Registry.Connect.
func (c *Connection) Initialize(ctx context.Context) error {
	c.engine.Start(ctx)
	c.Health.Start(ctx)
	return nil
}

// WaitSynchronized blocks until the connection's local and server-side
// synchronization flags agree, or the configured timeout elapses (spec
// §4.F).
func (c *Connection) WaitSynchronized(ctx context.Context, opts syncengine.WaitSynchronizedOptions) error {
	return c.engine.WaitSynchronized(ctx, opts)
}

// Close tears the connection down: stops the engine (which stops the
// health monitor and unsubscribes from the transport), closes history
// storage, and removes the connection from its registry. Independent
// teardown failures are aggregated rather than short-circuited, so a
// failure in one collaborator does not hide failures in another.
func (c *Connection) Close(ctx context.Context) error {
	var result *multierror.Error

	if err := c.engine.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.History.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.registry != nil {
		c.registry.Remove(c.AccountID)
	}

	return result.ErrorOrNil()
}
