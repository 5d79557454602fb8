package risk

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/mahekanna/gann-robot/pkg/config"
	"github.com/mahekanna/gann-robot/pkg/db"
)

type openSlot struct {
	symbol       string
	entryPrice   float64
	remainingQty int
}

// Controller owns account-wide trade admission: position sizing, the open
// position count, capital usage, and the daily/weekly/monthly loss locks.
// All mutation happens under one mutex so a fill and a concurrent sizing
// request cannot observe a torn state.
type Controller struct {
	mu      sync.Mutex
	cfg     config.RiskConfig
	capital config.CapitalConfig
	store   *db.Database

	open map[string]openSlot

	day         string
	dailyPnL    float64
	weeklyPnL   float64
	monthlyPnL  float64
	dailyTrades int
}

// NewController builds a controller and, when a store is present, reloads
// week-to-date and month-to-date results so loss locks survive restarts.
// Pass a nil store for a purely in-memory controller.
func NewController(cfg config.RiskConfig, capital config.CapitalConfig, store *db.Database, now time.Time) (*Controller, error) {
	c := &Controller{
		cfg:     cfg,
		capital: capital,
		store:   store,
		open:    make(map[string]openSlot),
		day:     now.Format("2006-01-02"),
	}
	if store != nil {
		ctx := context.Background()
		m, err := store.GetDailyMetrics(ctx, c.day)
		if err != nil {
			return nil, err
		}
		c.dailyPnL = m.DailyPnL
		c.dailyTrades = m.DailyTrades

		week, err := store.SumPnLSince(ctx, weekStart(now).Format("2006-01-02"))
		if err != nil {
			return nil, err
		}
		c.weeklyPnL = week

		month, err := store.SumPnLSince(ctx, monthStart(now).Format("2006-01-02"))
		if err != nil {
			return nil, err
		}
		c.monthlyPnL = month
	}
	log.Printf("risk controller ready: risk_per_trade=%.2f%% max_positions=%d capital=%.0f",
		cfg.RiskPerTradePct*100, cfg.MaxPositions, capital.Total)
	return c, nil
}

// SizeAndApprove converts a proposed entry into an approved quantity, or
// rejects it. Rejections for account-state reasons come back as *VetoError;
// a zero stop distance is ErrInvalidStop.
func (c *Controller) SizeAndApprove(symbol string, entry, stop float64) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return Decision{}, ErrInvalidStop
	}

	if len(c.open) >= c.cfg.MaxPositions {
		return Decision{}, veto("max open positions reached: %d", c.cfg.MaxPositions)
	}

	perSymbol := 0
	for _, s := range c.open {
		if s.symbol == symbol {
			perSymbol++
		}
	}
	if perSymbol >= c.capital.MaxPerSymbol {
		return Decision{}, veto("%s: per-symbol position cap reached: %d", symbol, c.capital.MaxPerSymbol)
	}

	total := c.capital.Total
	if c.dailyPnL <= -c.cfg.DailyLossPct*total {
		return Decision{}, veto("daily loss limit hit: %.2f", c.dailyPnL)
	}
	if c.weeklyPnL <= -c.cfg.WeeklyLossPct*total {
		return Decision{}, veto("weekly loss limit hit: %.2f", c.weeklyPnL)
	}
	if c.monthlyPnL <= -c.cfg.MonthlyLossPct*total {
		return Decision{}, veto("monthly loss limit hit: %.2f", c.monthlyPnL)
	}

	riskAmount := total * c.cfg.RiskPerTradePct
	qty := int(math.Floor(riskAmount / riskPerUnit))
	if qty <= 0 {
		return Decision{}, veto("risk amount %.2f too small for stop distance %.2f", riskAmount, riskPerUnit)
	}

	// The notional of this entry plus capital already deployed must stay
	// inside the per-trade capital fraction and the account total.
	maxNotional := total * c.capital.MaxPerTradePct
	if float64(qty)*entry > maxNotional {
		qty = int(math.Floor(maxNotional / entry))
	}
	if qty <= 0 {
		return Decision{}, veto("capital fraction %.2f leaves no room at price %.2f", c.capital.MaxPerTradePct, entry)
	}
	if c.usedCapitalLocked()+float64(qty)*entry > total {
		return Decision{}, veto("insufficient free capital: used %.2f of %.2f", c.usedCapitalLocked(), total)
	}

	return Decision{
		Quantity:   qty,
		RiskAmount: riskAmount,
		Notional:   float64(qty) * entry,
	}, nil
}

// RegisterOpen records a confirmed entry fill. Capital is considered used
// from this point until the matching scale-outs release it.
func (c *Controller) RegisterOpen(positionID, symbol string, entry float64, qty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[positionID] = openSlot{symbol: symbol, entryPrice: entry, remainingQty: qty}
}

// RegisterScaleOut releases capital for a confirmed partial exit. The PnL of
// the scaled leg counts toward the loss locks immediately.
func (c *Controller) RegisterScaleOut(ctx context.Context, positionID string, qty int, pnl float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.open[positionID]
	if !ok {
		return nil
	}
	s.remainingQty -= qty
	if s.remainingQty <= 0 {
		delete(c.open, positionID)
	} else {
		c.open[positionID] = s
	}
	return c.applyResultLocked(ctx, pnl, s.remainingQty <= 0)
}

// RegisterClose records a full close (stop, final target, or square-off).
func (c *Controller) RegisterClose(ctx context.Context, res TradeResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.open, res.PositionID)
	return c.applyResultLocked(ctx, res.PnL, true)
}

func (c *Controller) applyResultLocked(ctx context.Context, pnl float64, closed bool) error {
	c.dailyPnL += pnl
	c.weeklyPnL += pnl
	c.monthlyPnL += pnl
	if closed {
		c.dailyTrades++
	}
	if c.store != nil && closed {
		return c.store.AddDailyResult(ctx, c.day, pnl)
	}
	return nil
}

// ResetDaily rolls the accounting over to a new trading day. Weekly and
// monthly sums reset only when the new day crosses the respective boundary.
func (c *Controller) ResetDaily(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := now.Format("2006-01-02")
	if day == c.day {
		return
	}
	prev, _ := time.Parse("2006-01-02", c.day)
	c.day = day
	c.dailyPnL = 0
	c.dailyTrades = 0
	if weekStart(now).After(prev) {
		c.weeklyPnL = 0
	}
	if monthStart(now).After(prev) {
		c.monthlyPnL = 0
	}
	log.Printf("risk accounting reset for %s", day)
}

// UpdateConfig swaps the runtime limits. Open positions are untouched; the
// new limits apply from the next sizing request.
func (c *Controller) UpdateConfig(cfg config.RiskConfig) error {
	if cfg.RiskPerTradePct <= 0 || cfg.RiskPerTradePct >= 1 {
		return &config.ConfigError{Field: "risk.risk_per_trade_pct", Msg: "must be in (0,1)"}
	}
	if cfg.MaxPositions <= 0 {
		return &config.ConfigError{Field: "risk.max_positions", Msg: "must be positive"}
	}
	if cfg.DailyLossPct > cfg.WeeklyLossPct || cfg.WeeklyLossPct > cfg.MonthlyLossPct {
		return &config.ConfigError{Field: "risk", Msg: "loss limits must widen: daily <= weekly <= monthly"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	log.Printf("risk config updated: risk_per_trade=%.2f%% max_positions=%d", cfg.RiskPerTradePct*100, cfg.MaxPositions)
	return nil
}

// Config returns a copy of the active limits.
func (c *Controller) Config() config.RiskConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Snapshot returns the current accounting for monitoring and the API.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.capital.Total
	return State{
		OpenPositions: len(c.open),
		UsedCapital:   c.usedCapitalLocked(),
		DailyPnL:      c.dailyPnL,
		WeeklyPnL:     c.weeklyPnL,
		MonthlyPnL:    c.monthlyPnL,
		DailyTrades:   c.dailyTrades,
		LockedDay:     c.dailyPnL <= -c.cfg.DailyLossPct*total,
		LockedWeek:    c.weeklyPnL <= -c.cfg.WeeklyLossPct*total,
		LockedMonth:   c.monthlyPnL <= -c.cfg.MonthlyLossPct*total,
	}
}

func (c *Controller) usedCapitalLocked() float64 {
	used := 0.0
	for _, s := range c.open {
		used += s.entryPrice * float64(s.remainingQty)
	}
	return used
}

func weekStart(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	y, m, d := t.AddDate(0, 0, -(wd - 1)).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
