package signal

import (
	"fmt"
	"time"

	"github.com/mahekanna/gann-robot/internal/candle"
	"github.com/mahekanna/gann-robot/internal/indicators"
	"github.com/mahekanna/gann-robot/internal/levels"
)

// Direction of a prospective trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Signal is a transient entry decision produced for a single candle. It is
// never persisted beyond the evaluation that created it.
type Signal struct {
	Direction Direction
	Symbol    string
	Timeframe string
	Price     float64      // entry reference: the breakout candle close
	Level     levels.Level // the level whose break triggered the signal
	StopPrice float64
	Targets   []float64

	VolumeConfirmed bool
	RSIConfirmed    bool
	PriorConfirmed  bool

	Timestamp time.Time
	Note      string
}

// Config controls signal confirmation.
type Config struct {
	// PrimaryAngle is the angle index used for nearest-level selection and
	// target ladders. levels.AllAngles searches every angle with the
	// lower-angle tie-break.
	PrimaryAngle int
	// VolumeMultiple is the factor over trailing average volume required to
	// confirm a breakout (e.g. 1.5).
	VolumeMultiple float64
	// BufferPct offsets the initial stop from the broken level (e.g. 0.002).
	BufferPct float64
	// NumTargets is the ladder depth attached to a signal.
	NumTargets int
	// RSI bounds: longs are rejected at or above RSILongMax, shorts at or
	// below RSIShortMin.
	RSILongMax  float64
	RSIShortMin float64
}

// Validate checks confirmation parameters.
func (c Config) Validate() error {
	if c.VolumeMultiple <= 0 {
		return fmt.Errorf("signal: volume_multiple must be positive, got %v", c.VolumeMultiple)
	}
	if c.BufferPct < 0 || c.BufferPct >= 1 {
		return fmt.Errorf("signal: buffer_percentage out of range: %v", c.BufferPct)
	}
	if c.NumTargets <= 0 {
		return fmt.Errorf("signal: num_targets must be positive, got %d", c.NumTargets)
	}
	if c.RSILongMax <= c.RSIShortMin {
		return fmt.Errorf("signal: rsi bounds inverted (%v <= %v)", c.RSILongMax, c.RSIShortMin)
	}
	return nil
}

// Engine evaluates candles against a level set. One engine instance serves one
// (symbol, timeframe) stream and is not safe for concurrent use; the
// coordinator runs each stream sequentially.
type Engine struct {
	cfg   Config
	prior *candle.Candle
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate inspects one candle and returns a confirmed entry signal or nil.
// hasOpenPosition suppresses new entries while a position is open for this
// (symbol, strategy) pair. The engine remembers the candle as the prior bar
// for the next evaluation regardless of outcome.
func (e *Engine) Evaluate(c candle.Candle, set *levels.Set, ind indicators.Snapshot, hasOpenPosition bool) *Signal {
	prior := e.prior
	cc := c
	e.prior = &cc

	if set == nil || prior == nil || hasOpenPosition {
		return nil
	}
	// Insufficient lookback for volume/RSI is silence, not an error.
	if !ind.Ready {
		return nil
	}

	volumeOK := ind.AvgVolume > 0 && ind.Volume >= e.cfg.VolumeMultiple*ind.AvgVolume

	// Long: the bar crosses up through the nearest resistance above its open
	// while the prior bar already closed above it, so the break has held for
	// more than a single bar.
	if res, ok := set.NearestAbove(c.Open, e.cfg.PrimaryAngle); ok {
		if c.Close > res.Value && prior.Close > res.Value {
			rsiOK := ind.RSI < e.cfg.RSILongMax
			if volumeOK && rsiOK {
				return e.build(Long, c, res, set)
			}
		}
	}

	// Short: symmetric breakdown through the nearest support below the open.
	if sup, ok := set.NearestBelow(c.Open, e.cfg.PrimaryAngle); ok {
		if c.Close < sup.Value && prior.Close < sup.Value {
			rsiOK := ind.RSI > e.cfg.RSIShortMin
			if volumeOK && rsiOK {
				return e.build(Short, c, sup, set)
			}
		}
	}

	return nil
}

func (e *Engine) build(dir Direction, c candle.Candle, lvl levels.Level, set *levels.Set) *Signal {
	angle := e.cfg.PrimaryAngle
	if angle == levels.AllAngles {
		angle = lvl.Angle
	}

	var stop float64
	var ladder []levels.Level
	if dir == Long {
		stop = lvl.Value * (1 - e.cfg.BufferPct)
		ladder = set.Above(c.Close, angle, e.cfg.NumTargets)
	} else {
		stop = lvl.Value * (1 + e.cfg.BufferPct)
		ladder = set.Below(c.Close, angle, e.cfg.NumTargets)
	}
	targets := make([]float64, len(ladder))
	for i, l := range ladder {
		targets[i] = l.Value
	}

	return &Signal{
		Direction:       dir,
		Symbol:          c.Symbol,
		Timeframe:       c.Timeframe,
		Price:           c.Close,
		Level:           lvl,
		StopPrice:       stop,
		Targets:         targets,
		VolumeConfirmed: true,
		RSIConfirmed:    true,
		PriorConfirmed:  true,
		Timestamp:       c.Timestamp,
		Note:            fmt.Sprintf("%s break of level %.2f (angle %d)", dir, lvl.Value, lvl.Angle),
	}
}

// Reset clears the prior-bar memory, e.g. at a session boundary.
func (e *Engine) Reset() {
	e.prior = nil
}
