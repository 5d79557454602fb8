package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahekanna/gann-robot/internal/candle"
	"github.com/mahekanna/gann-robot/internal/indicators"
	"github.com/mahekanna/gann-robot/internal/levels"
)

func testLevels(t *testing.T) *levels.Set {
	t.Helper()
	set, err := levels.Compute(650.25, levels.Config{
		Increments:   []float64{0.5},
		NumValues:    10,
		DeviationPct: 0.005,
	})
	require.NoError(t, err)
	return set
}

func testEngine() *Engine {
	return NewEngine(Config{
		PrimaryAngle:   0,
		VolumeMultiple: 1.5,
		BufferPct:      0.002,
		NumTargets:     3,
		RSILongMax:     70,
		RSIShortMin:    30,
	})
}

func bar(open, close, volume float64) candle.Candle {
	hi, lo := open, close
	if close > hi {
		hi = close
	}
	if open < lo {
		lo = open
	}
	return candle.Candle{
		Symbol:    "SBIN",
		Timeframe: "5m",
		Timestamp: time.Now(),
		Open:      open,
		High:      hi,
		Low:       lo,
		Close:     close,
		Volume:    volume,
	}
}

func confirmed(rsi float64) indicators.Snapshot {
	return indicators.Snapshot{RSI: rsi, AvgVolume: 1000, Volume: 2000, Ready: true}
}

// Levels on angle 0: ... 625, 650.25, 676, 702.25, 729 ...

func TestLongBreakoutConfirmed(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	// Prior bar closed above 676; breakout bar opens below it and closes
	// back above on strong volume.
	eng.Evaluate(bar(670, 680, 1200), set, confirmed(55), false)
	sig := eng.Evaluate(bar(674, 681, 2000), set, confirmed(55), false)

	require.NotNil(t, sig)
	assert.Equal(t, Long, sig.Direction)
	assert.InDelta(t, 676, sig.Level.Value, 1e-9)
	assert.InDelta(t, 676*(1-0.002), sig.StopPrice, 1e-9)
	require.Len(t, sig.Targets, 3)
	assert.InDelta(t, 702.25, sig.Targets[0], 1e-9)
	assert.InDelta(t, 729, sig.Targets[1], 1e-9)
	assert.True(t, sig.VolumeConfirmed)
}

func TestLongRejectedWithoutPriorClose(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	// Prior bar closed below the level: single-bar wick, no signal.
	eng.Evaluate(bar(670, 674, 1200), set, confirmed(55), false)
	sig := eng.Evaluate(bar(674, 681, 2000), set, confirmed(55), false)
	assert.Nil(t, sig)
}

func TestLongRejectedOnWeakVolume(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	eng.Evaluate(bar(670, 680, 1200), set, confirmed(55), false)
	weak := indicators.Snapshot{RSI: 55, AvgVolume: 1000, Volume: 1100, Ready: true}
	sig := eng.Evaluate(bar(674, 681, 1100), set, weak, false)
	assert.Nil(t, sig)
}

func TestLongRejectedOnOverboughtRSI(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	eng.Evaluate(bar(670, 680, 1200), set, confirmed(75), false)
	sig := eng.Evaluate(bar(674, 681, 2000), set, confirmed(75), false)
	assert.Nil(t, sig)
}

func TestShortBreakdownConfirmed(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	// Prior bar closed below 650.25; the next bar opens above and closes
	// below it again.
	eng.Evaluate(bar(652, 648, 1200), set, confirmed(45), false)
	sig := eng.Evaluate(bar(651, 647, 2000), set, confirmed(45), false)

	require.NotNil(t, sig)
	assert.Equal(t, Short, sig.Direction)
	assert.InDelta(t, 650.25, sig.Level.Value, 1e-9)
	assert.InDelta(t, 650.25*(1+0.002), sig.StopPrice, 1e-9)
	require.NotEmpty(t, sig.Targets)
	assert.InDelta(t, 625, sig.Targets[0], 1e-9)
}

func TestShortRejectedOnOversoldRSI(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	eng.Evaluate(bar(652, 648, 1200), set, confirmed(25), false)
	sig := eng.Evaluate(bar(651, 647, 2000), set, confirmed(25), false)
	assert.Nil(t, sig)
}

func TestNoSignalWhilePositionOpen(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	eng.Evaluate(bar(670, 680, 1200), set, confirmed(55), false)
	sig := eng.Evaluate(bar(674, 681, 2000), set, confirmed(55), true)
	assert.Nil(t, sig)
}

func TestNoSignalWithoutLookback(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	notReady := indicators.Snapshot{Ready: false}
	eng.Evaluate(bar(670, 680, 1200), set, notReady, false)
	sig := eng.Evaluate(bar(674, 681, 2000), set, notReady, false)
	assert.Nil(t, sig)
}

func TestResetClearsPriorBar(t *testing.T) {
	set := testLevels(t)
	eng := testEngine()

	eng.Evaluate(bar(670, 680, 1200), set, confirmed(55), false)
	eng.Reset()
	// First bar after reset has no prior; nothing may fire.
	sig := eng.Evaluate(bar(674, 681, 2000), set, confirmed(55), false)
	assert.Nil(t, sig)
}
