package health

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name, accountID string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "account_id" && l.GetValue() == accountID {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{account_id=%s} not found", name, accountID)
	return 0
}

func TestMetricsObserveSetsPerAccountGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "acct-1")

	m.observe(Sample{TerminalConnected: true, BrokerConnected: true, QuoteStreaming: false, ServerHealthy: true}, Uptime{OneHour: 0.9, OneDay: 0.8, OneWeek: 0.7})

	assert.Equal(t, float64(1), gaugeValue(t, reg, "terminal_sdk_terminal_connected", "acct-1"))
	assert.Equal(t, float64(0), gaugeValue(t, reg, "terminal_sdk_quote_streaming", "acct-1"))
	assert.Equal(t, 0.9, gaugeValue(t, reg, "terminal_sdk_uptime_ratio_1h", "acct-1"))
}

// A second account sharing the same registry must report through the same
// collector rather than silently failing to register.
func TestMetricsSharedRegistrySupportsMultipleAccounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1 := NewMetrics(reg, "acct-1")
	m2 := NewMetrics(reg, "acct-2")

	m1.observe(Sample{TerminalConnected: true}, Uptime{OneHour: 1})
	m2.observe(Sample{TerminalConnected: false}, Uptime{OneHour: 0})

	assert.Equal(t, float64(1), gaugeValue(t, reg, "terminal_sdk_terminal_connected", "acct-1"))
	assert.Equal(t, float64(0), gaugeValue(t, reg, "terminal_sdk_terminal_connected", "acct-2"))
}
