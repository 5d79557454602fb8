package db

import "time"

// Order represents an exchange order stored in the DB.
type Order struct {
	ID         string
	PositionID string
	Symbol     string
	Side       string
	Kind       string
	Price      float64
	Qty        int
	FilledQty  int
	Status     string
	CreatedAt  time.Time
}

// Trade represents a confirmed fill stored in the DB. The order_id UNIQUE
// constraint backs fill idempotency across restarts.
type Trade struct {
	ID         string
	OrderID    string
	PositionID string
	Symbol     string
	Side       string
	Price      float64
	Qty        int
	CreatedAt  time.Time
}

// Position is the persisted lifecycle record of one trade.
type Position struct {
	ID           string
	Symbol       string
	Timeframe    string
	Direction    string
	Status       string
	EntryPrice   float64
	StopPrice    float64
	Qty          int
	RemainingQty int
	RealizedPnL  float64
	Degraded     bool
	OpenedAt     time.Time
	ClosedAt     time.Time
	UpdatedAt    time.Time
}

// PositionEvent is one row of a position's audit trail (fills, stop
// adjustments, target extensions, square-off).
type PositionEvent struct {
	Seq        int64
	PositionID string
	Event      string
	Detail     string
	Price      float64
	Qty        int
	CreatedAt  time.Time
}

// RiskMetrics holds realized results for one trading day.
type RiskMetrics struct {
	Date        string
	DailyPnL    float64
	DailyTrades int
	DailyWins   int
	DailyLosses int
}

// StrategyInstance is one configured (symbol, timeframe) stream.
type StrategyInstance struct {
	ID        string
	Symbol    string
	Timeframe string
	Anchor    float64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Candle is a persisted bar, used for history queries.
type Candle struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
