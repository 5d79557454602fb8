package candle

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar delivered by the market-data feed. Feeds are
// expected to deliver candles pre-normalized: ordered, gap-free, and without
// duplicate timestamps within one (symbol, timeframe) stream.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"` // e.g. "1m", "5m", "15m"
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate reports the first structural problem with the bar, if any.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle: empty symbol")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle %s: zero timestamp", c.Symbol)
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle %s@%s: non-positive price", c.Symbol, c.Timestamp)
	}
	if c.High < c.Low {
		return fmt.Errorf("candle %s@%s: high %.4f below low %.4f", c.Symbol, c.Timestamp, c.High, c.Low)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s@%s: negative volume", c.Symbol, c.Timestamp)
	}
	return nil
}

// Bullish reports whether the bar closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// TimeframeDuration parses a timeframe label like "1m", "15m" or "1h".
func TimeframeDuration(tf string) (time.Duration, error) {
	d, err := time.ParseDuration(tf)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", tf, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q: non-positive", tf)
	}
	return d, nil
}
