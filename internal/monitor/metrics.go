package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks engine throughput and latency.
type SystemMetrics struct {
	// Latency histograms
	CandleLatency *LatencyHistogram
	OrderLatency  *LatencyHistogram
	APILatency    *LatencyHistogram

	// Counters
	candlesProcessed uint64
	signalsGenerated uint64
	signalsVetoed    uint64
	ordersProcessed  uint64
	errorsCount      uint64
	apiRequests      uint64
	apiErrors        uint64
}

// LatencyHistogram tracks latency samples with a sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		CandleLatency: NewLatencyHistogram(1000),
		OrderLatency:  NewLatencyHistogram(1000),
		APILatency:    NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes lazily, only when
// samples have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementCandles increments the processed candles counter.
func (m *SystemMetrics) IncrementCandles() {
	atomic.AddUint64(&m.candlesProcessed, 1)
}

// IncrementSignals increments the generated signals counter.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsGenerated, 1)
}

// IncrementVetoes counts signals the risk controller rejected.
func (m *SystemMetrics) IncrementVetoes() {
	atomic.AddUint64(&m.signalsVetoed, 1)
}

// IncrementOrders increments the submitted orders counter.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersProcessed, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPI increments the API request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts API responses with status >= 400.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time view for the API.
type MetricsSnapshot struct {
	CandleLatency    LatencyStats `json:"candle_latency"`
	OrderLatency     LatencyStats `json:"order_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	CandlesProcessed uint64       `json:"candles_processed"`
	SignalsGenerated uint64       `json:"signals_generated"`
	SignalsVetoed    uint64       `json:"signals_vetoed"`
	OrdersProcessed  uint64       `json:"orders_processed"`
	ErrorsCount      uint64       `json:"errors_count"`
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		CandleLatency:    m.CandleLatency.Stats(),
		OrderLatency:     m.OrderLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		CandlesProcessed: atomic.LoadUint64(&m.candlesProcessed),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		SignalsVetoed:    atomic.LoadUint64(&m.signalsVetoed),
		OrdersProcessed:  atomic.LoadUint64(&m.ordersProcessed),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
