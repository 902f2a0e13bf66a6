package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors a Monitor's samples onto Prometheus gauges, one set per
// account so a process hosting many connections exposes per-account uptime
// (SPEC_FULL.md §M).
type Metrics struct {
	terminalConnected *prometheus.GaugeVec
	brokerConnected   *prometheus.GaugeVec
	quoteStreaming    *prometheus.GaugeVec
	serverHealthy     *prometheus.GaugeVec
	uptime1h          *prometheus.GaugeVec
	uptime1d          *prometheus.GaugeVec
	uptime1w          *prometheus.GaugeVec

	accountID string
}

// NewMetrics registers (or reuses, if already registered on reg) the
// terminal SDK's health gauges and returns a per-account reporter bound to
// accountID.
func NewMetrics(reg prometheus.Registerer, accountID string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		accountID: accountID,
		terminalConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terminal_sdk",
			Name:      "terminal_connected",
			Help:      "1 if the transport is connected for this account, 0 otherwise.",
		}, []string{"account_id"}),
		brokerConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terminal_sdk",
			Name:      "broker_connected",
			Help:      "1 if the terminal reports it is connected to the broker, 0 otherwise.",
		}, []string{"account_id"}),
		quoteStreaming: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terminal_sdk",
			Name:      "quote_streaming",
			Help:      "1 if quotes are currently streaming for this account, 0 otherwise.",
		}, []string{"account_id"}),
		serverHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terminal_sdk",
			Name:      "server_healthy",
			Help:      "1 if the last server health sample was healthy, 0 otherwise.",
		}, []string{"account_id"}),
		uptime1h: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terminal_sdk",
			Name:      "uptime_ratio_1h",
			Help:      "Rolling 1-hour uptime ratio in [0,1].",
		}, []string{"account_id"}),
		uptime1d: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terminal_sdk",
			Name:      "uptime_ratio_1d",
			Help:      "Rolling 1-day uptime ratio in [0,1].",
		}, []string{"account_id"}),
		uptime1w: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terminal_sdk",
			Name:      "uptime_ratio_1w",
			Help:      "Rolling 1-week uptime ratio in [0,1].",
		}, []string{"account_id"}),
	}

	m.terminalConnected = registerOrReuse(reg, m.terminalConnected)
	m.brokerConnected = registerOrReuse(reg, m.brokerConnected)
	m.quoteStreaming = registerOrReuse(reg, m.quoteStreaming)
	m.serverHealthy = registerOrReuse(reg, m.serverHealthy)
	m.uptime1h = registerOrReuse(reg, m.uptime1h)
	m.uptime1d = registerOrReuse(reg, m.uptime1d)
	m.uptime1w = registerOrReuse(reg, m.uptime1w)

	return m
}

// registerOrReuse registers v on reg, or, if an equivalent collector is
// already registered (a second account sharing the same registry), returns
// the already-registered vec so both accounts report through the same
// collector instead of the new one silently going unregistered.
func registerOrReuse(reg prometheus.Registerer, v *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := reg.Register(v); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
	}
	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *Metrics) observe(s Sample, up Uptime) {
	m.terminalConnected.WithLabelValues(m.accountID).Set(boolToFloat(s.TerminalConnected))
	m.brokerConnected.WithLabelValues(m.accountID).Set(boolToFloat(s.BrokerConnected))
	m.quoteStreaming.WithLabelValues(m.accountID).Set(boolToFloat(s.QuoteStreaming))
	m.serverHealthy.WithLabelValues(m.accountID).Set(boolToFloat(s.ServerHealthy))
	m.uptime1h.WithLabelValues(m.accountID).Set(up.OneHour)
	m.uptime1d.WithLabelValues(m.accountID).Set(up.OneDay)
	m.uptime1w.WithLabelValues(m.accountID).Set(up.OneWeek)
}
