package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahekanna/gann-robot/internal/events"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 10; i++ {
		h.Record(float64(i))
	}

	s := h.Stats()
	assert.Equal(t, 10, s.Count)
	assert.InDelta(t, 1, s.Min, 1e-9)
	assert.InDelta(t, 10, s.Max, 1e-9)
	assert.InDelta(t, 5.5, s.Avg, 1e-9)
	assert.InDelta(t, 6, s.P50, 1e-9)
}

func TestLatencyHistogramSlidesWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for i := 1; i <= 5; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 3, s.Min, 1e-9)
	assert.InDelta(t, 5, s.Max, 1e-9)
}

func TestSnapshotCounters(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementCandles()
	m.IncrementCandles()
	m.IncrementSignals()
	m.IncrementVetoes()
	m.IncrementOrders()

	s := m.GetSnapshot()
	assert.Equal(t, uint64(2), s.CandlesProcessed)
	assert.Equal(t, uint64(1), s.SignalsGenerated)
	assert.Equal(t, uint64(1), s.SignalsVetoed)
	assert.Equal(t, uint64(1), s.OrdersProcessed)
	assert.Positive(t, s.GoroutineCount)
}

func TestMonitorForwardsRiskAlerts(t *testing.T) {
	bus := events.NewBus()
	alerts := make(chan string, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &Monitor{Bus: bus, AlertFn: func(s string) { alerts <- s }}
	m.Start(ctx)

	time.Sleep(10 * time.Millisecond) // let the subscriber attach
	bus.Publish(events.EventRiskAlert, "daily loss limit hit")

	select {
	case got := <-alerts:
		require.Contains(t, got, "daily loss limit hit")
	case <-time.After(time.Second):
		t.Fatal("alert not forwarded")
	}
}
