package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	sample Sample
}

func (f *fakeSource) Sample() Sample { return f.sample }

func TestRingBufferRatioOverFilledSamplesOnly(t *testing.T) {
	r := newRingBuffer(4)
	assert.Equal(t, float64(0), r.ratio(), "an empty buffer reports zero uptime, not a div-by-zero")

	r.push(true)
	assert.Equal(t, float64(1), r.ratio())

	r.push(false)
	assert.Equal(t, float64(0.5), r.ratio())
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	r := newRingBuffer(3)
	r.push(true)
	r.push(true)
	r.push(true)
	assert.Equal(t, float64(1), r.ratio())

	// Overwrite the oldest true sample with a false one.
	r.push(false)
	assert.InDelta(t, 2.0/3.0, r.ratio(), 1e-9)
}

func TestMonitorTickUpdatesUptimeRatios(t *testing.T) {
	src := &fakeSource{sample: Sample{TerminalConnected: true, BrokerConnected: true, QuoteStreaming: true, ServerHealthy: true}}
	m := New(time.Millisecond, src, nil, nil)

	m.tick()
	m.tick()
	up := m.Uptime()
	assert.Equal(t, float64(1), up.OneHour)
	assert.Equal(t, float64(1), up.OneDay)
	assert.Equal(t, float64(1), up.OneWeek)

	src.sample = Sample{TerminalConnected: true, BrokerConnected: false, QuoteStreaming: true, ServerHealthy: true}
	m.tick()
	up = m.Uptime()
	assert.InDelta(t, 2.0/3.0, up.OneHour, 1e-9, "a single false quadrant marks the whole sample down")
}

func TestMonitorStartStopSamplesPeriodically(t *testing.T) {
	src := &fakeSource{sample: Sample{TerminalConnected: true, BrokerConnected: true, QuoteStreaming: true, ServerHealthy: true}}
	m := New(5*time.Millisecond, src, nil, nil)

	ctx := context.Background()
	m.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	up := m.Uptime()
	assert.Equal(t, float64(1), up.OneHour)
}

func TestServerHealthStatusMirrorsLastObservedValue(t *testing.T) {
	m := New(time.Second, &fakeSource{}, nil, nil)

	require.Nil(t, m.ServerHealthStatus())

	m.OnServerHealthStatus(map[string]any{"brokerTime": "2026-01-01T00:00:00Z"})
	assert.Equal(t, "2026-01-01T00:00:00Z", m.ServerHealthStatus()["brokerTime"])
}
