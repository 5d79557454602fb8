package market

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/mahekanna/gann-robot/internal/candle"
	"github.com/mahekanna/gann-robot/internal/events"
)

// Feed is a source of ordered candle streams published onto the event bus.
type Feed interface {
	Start(ctx context.Context)
}

// MockFeed generates synthetic candles for local development and paper
// trading. Prices follow a per-symbol random walk; the bars are valid OHLCV
// (high/low bracket open and close) and arrive in timestamp order.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	Timeframe  string
	StartPrice float64
	Step       float64
	BaseVolume float64
	Interval   time.Duration

	rng    *rand.Rand
	prices map[string]float64
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"SBIN"}
	}
	if m.Timeframe == "" {
		m.Timeframe = "5m"
	}
	if m.StartPrice == 0 {
		m.StartPrice = 650
	}
	if m.Step == 0 {
		m.Step = 1.5
	}
	if m.BaseVolume == 0 {
		m.BaseVolume = 10_000
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	m.prices = make(map[string]float64, len(m.Symbols))
	for _, sym := range m.Symbols {
		m.prices[sym] = m.StartPrice
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, sym := range m.Symbols {
					m.Bus.Publish(events.EventCandle, m.nextBar(sym, now))
				}
			}
		}
	}()
}

func (m *MockFeed) nextBar(symbol string, ts time.Time) candle.Candle {
	open := m.prices[symbol]
	drift := (m.rng.Float64()*2 - 1) * m.Step
	closePx := open + drift
	if closePx <= 0 {
		closePx = open
	}

	high := open
	if closePx > high {
		high = closePx
	}
	high += m.rng.Float64() * m.Step / 2
	low := open
	if closePx < low {
		low = closePx
	}
	low -= m.rng.Float64() * m.Step / 2
	if low <= 0 {
		low = closePx
	}

	// Occasional volume spikes so breakout confirmation has something to
	// latch onto.
	vol := m.BaseVolume * (0.8 + m.rng.Float64()*0.4)
	if m.rng.Intn(10) == 0 {
		vol *= 2.5
	}

	m.prices[symbol] = closePx
	return candle.Candle{
		Symbol:    symbol,
		Timeframe: m.Timeframe,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
	}
}
