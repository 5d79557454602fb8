package risk

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidStop is returned when entry and stop coincide, leaving no
// per-unit risk to size against.
var ErrInvalidStop = errors.New("stop price equals entry price")

// VetoError rejects a proposed trade without being a system fault. Callers
// log it and move on; they must not retry the same candle.
type VetoError struct {
	Reason string
}

func (e *VetoError) Error() string {
	return "risk veto: " + e.Reason
}

func veto(format string, args ...any) *VetoError {
	return &VetoError{Reason: fmt.Sprintf(format, args...)}
}

// Decision is the approved sizing for one proposed entry.
type Decision struct {
	Quantity   int
	RiskAmount float64
	Notional   float64
}

// TradeResult reports one realized close (full or partial scale-out).
type TradeResult struct {
	PositionID string
	Symbol     string
	PnL        float64
	ClosedAt   time.Time
}

// State is a snapshot of the controller's accounting.
type State struct {
	OpenPositions int
	UsedCapital   float64
	DailyPnL      float64
	WeeklyPnL     float64
	MonthlyPnL    float64
	DailyTrades   int
	LockedDay     bool
	LockedWeek    bool
	LockedMonth   bool
}
