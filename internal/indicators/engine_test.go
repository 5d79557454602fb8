package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mahekanna/gann-robot/internal/candle"
)

func bar(close, volume float64) candle.Candle {
	return candle.Candle{
		Symbol:    "SBIN",
		Timeframe: "5m",
		Timestamp: time.Now(),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    volume,
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, 100.0, RSI(vals, 7))
}

func TestRSIInsufficientDataIsZero(t *testing.T) {
	assert.Equal(t, 0.0, RSI([]float64{1, 2, 3}, 14))
}

func TestEngineReadinessGate(t *testing.T) {
	eng := NewEngine(3, 3, 50)

	var snap Snapshot
	for i := 0; i < 3; i++ {
		snap = eng.Update(bar(100+float64(i), 1000))
		assert.False(t, snap.Ready, "bar %d should not be ready", i)
	}
	snap = eng.Update(bar(104, 1500))
	assert.True(t, snap.Ready)
	assert.Greater(t, snap.RSI, 0.0)
}

func TestAvgVolumeExcludesCurrentBar(t *testing.T) {
	eng := NewEngine(2, 3, 50)
	eng.Update(bar(100, 1000))
	eng.Update(bar(101, 1000))
	eng.Update(bar(102, 1000))

	// Spike bar: the average must reflect the three 1000-volume bars only.
	snap := eng.Update(bar(103, 5000))
	assert.InDelta(t, 1000, snap.AvgVolume, 1e-9)
	assert.InDelta(t, 5000, snap.Volume, 1e-9)
}

func TestEngineSeparatesTimeframes(t *testing.T) {
	eng := NewEngine(3, 3, 50)
	c := bar(100, 1000)
	eng.Update(c)
	c.Timeframe = "15m"
	eng.Update(c)

	assert.Equal(t, 1, eng.Lookback("SBIN", "5m"))
	assert.Equal(t, 1, eng.Lookback("SBIN", "15m"))
}
