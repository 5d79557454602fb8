package position

import (
	"math"
	"time"

	"github.com/mahekanna/gann-robot/internal/signal"
)

// Status is a position's lifecycle state.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusOpen            Status = "OPEN"
	StatusPartiallyScaled Status = "PARTIALLY_SCALED"
	StatusClosed          Status = "CLOSED"
	StatusStopped         Status = "STOPPED"
	StatusSquaredOff      Status = "SQUARED_OFF"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusStopped || s == StatusSquaredOff
}

// Target is one leg of the scale-out ladder.
type Target struct {
	Price   float64
	Qty     int
	Filled  bool
	OrderID string // non-empty while a scale-out request is in flight
}

// Position tracks one trade from entry to closure. All mutation goes through
// the Manager; a Position transitions only on confirmed fills.
type Position struct {
	ID        string
	Symbol    string
	Timeframe string
	Direction signal.Direction
	Status    Status

	EntryPrice   float64
	StopPrice    float64
	Qty          int
	RemainingQty int
	Targets      []Target

	RealizedPnL float64
	LastPrice   float64
	Degraded    bool

	OpenedAt time.Time
	ClosedAt time.Time

	entryOrderID     string
	stopOrderID      string
	squareOffOrderID string
}

// UnrealizedPnL marks the remaining quantity against the last seen price.
func (p *Position) UnrealizedPnL() float64 {
	if p.Status.Terminal() || p.RemainingQty == 0 || p.LastPrice == 0 {
		return 0
	}
	diff := p.LastPrice - p.EntryPrice
	if p.Direction == signal.Short {
		diff = -diff
	}
	return diff * float64(p.RemainingQty)
}

func (p *Position) legPnL(fillPrice float64, qty int) float64 {
	diff := fillPrice - p.EntryPrice
	if p.Direction == signal.Short {
		diff = -diff
	}
	return diff * float64(qty)
}

func (p *Position) exitPending() bool {
	return p.stopOrderID != "" || p.squareOffOrderID != ""
}

// SplitQuantity divides qty across n ladder legs. Each leg but the last gets
// floor(100/n)% of the original quantity and the last leg absorbs the
// remainder, so for three legs the split is 33%/33%/34%.
func SplitQuantity(qty, n int) []int {
	if n <= 1 {
		return []int{qty}
	}
	legPct := math.Floor(100/float64(n)) / 100
	legs := make([]int, n)
	used := 0
	for i := 0; i < n-1; i++ {
		legs[i] = int(math.Floor(float64(qty) * legPct))
		used += legs[i]
	}
	legs[n-1] = qty - used
	return legs
}
