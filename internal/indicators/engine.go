package indicators

import (
	"sync"

	"github.com/mahekanna/gann-robot/internal/candle"
)

// Snapshot carries the indicator values computed for one bar.
type Snapshot struct {
	RSI       float64
	AvgVolume float64 // trailing mean volume, excluding the current bar
	Volume    float64 // current bar volume
	Ready     bool    // enough lookback for both RSI and volume
}

// Engine maintains per-symbol close/volume windows and computes the
// confirmation indicators the signal engine needs.
type Engine struct {
	mu        sync.Mutex
	closes    map[string][]float64
	volumes   map[string][]float64
	rsiPeriod int
	volPeriod int
	window    int
}

// NewEngine builds an indicator engine. window bounds the retained history
// and is clamped to cover both periods.
func NewEngine(rsiPeriod, volPeriod, window int) *Engine {
	if window < rsiPeriod+1 {
		window = rsiPeriod + 1
	}
	if window < volPeriod+1 {
		window = volPeriod + 1
	}
	return &Engine{
		closes:    make(map[string][]float64),
		volumes:   make(map[string][]float64),
		rsiPeriod: rsiPeriod,
		volPeriod: volPeriod,
		window:    window,
	}
}

// Update ingests a bar and returns the indicator snapshot for it.
func (e *Engine) Update(c candle.Candle) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := c.Symbol + ":" + c.Timeframe

	prevVolumes := e.volumes[key]
	avgVol := Mean(prevVolumes, e.volPeriod)

	closes := append(e.closes[key], c.Close)
	if len(closes) > e.window {
		closes = closes[len(closes)-e.window:]
	}
	e.closes[key] = closes

	volumes := append(prevVolumes, c.Volume)
	if len(volumes) > e.window {
		volumes = volumes[len(volumes)-e.window:]
	}
	e.volumes[key] = volumes

	return Snapshot{
		RSI:       RSI(closes, e.rsiPeriod),
		AvgVolume: avgVol,
		Volume:    c.Volume,
		Ready:     len(closes) >= e.rsiPeriod+1 && len(prevVolumes) >= e.volPeriod,
	}
}

// Lookback returns the number of bars seen for a (symbol, timeframe) stream.
func (e *Engine) Lookback(symbol, timeframe string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.closes[symbol+":"+timeframe])
}
