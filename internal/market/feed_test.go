package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahekanna/gann-robot/internal/candle"
	"github.com/mahekanna/gann-robot/internal/events"
)

func TestMockFeedPublishesValidCandles(t *testing.T) {
	bus := events.NewBus()
	candles, unsub := bus.Subscribe(events.EventCandle, 32)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := &MockFeed{
		Bus:      bus,
		Symbols:  []string{"SBIN", "RELIANCE"},
		Interval: 5 * time.Millisecond,
	}
	feed.Start(ctx)

	seen := map[string]int{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 || seen["SBIN"] < 3 {
		select {
		case msg := <-candles:
			c, ok := msg.(candle.Candle)
			require.True(t, ok)
			require.NoError(t, c.Validate())
			assert.GreaterOrEqual(t, c.High, c.Open)
			assert.GreaterOrEqual(t, c.High, c.Close)
			assert.LessOrEqual(t, c.Low, c.Open)
			assert.LessOrEqual(t, c.Low, c.Close)
			assert.Positive(t, c.Volume)
			assert.Equal(t, "5m", c.Timeframe)
			seen[c.Symbol]++
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
}
