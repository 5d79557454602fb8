package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, position_id, symbol, side, kind, price, qty, filled_qty, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ID, o.PositionID, o.Symbol, o.Side, o.Kind, o.Price, o.Qty, o.FilledQty, o.Status, o.CreatedAt,
	)
	return err
}

// UpdateOrderFill sets status, filled quantity and fill price of an order.
func (d *Database) UpdateOrderFill(ctx context.Context, id, status string, filledQty int, price float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, price = ?
		WHERE id = ?
	`, status, filledQty, price, id)
	return err
}

// UpdateOrderStatus sets the status of an order.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, id)
	return err
}

// RecordFill inserts a trade row for an order fill. The orders table may see
// the same fill notification more than once; the UNIQUE constraint on
// order_id makes the insert idempotent. Returns false when the fill was
// already recorded.
func (d *Database) RecordFill(ctx context.Context, t Trade) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, position_id, symbol, side, price, qty, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(order_id) DO NOTHING
	`, t.ID, t.OrderID, t.PositionID, t.Symbol, t.Side, t.Price, t.Qty, t.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListOpenOrders returns orders that are still working.
func (d *Database) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(position_id, ''), symbol, side, kind, price, qty,
		       COALESCE(filled_qty, 0), status, created_at
		FROM orders WHERE status IN ('NEW','SUBMITTED','PARTIALLY_FILLED')
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.PositionID, &o.Symbol, &o.Side, &o.Kind, &o.Price, &o.Qty, &o.FilledQty, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// UpsertPosition stores the latest lifecycle state of a position.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, symbol, timeframe, direction, status, entry_price, stop_price,
			qty, remaining_qty, realized_pnl, degraded, opened_at, closed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			stop_price = excluded.stop_price,
			remaining_qty = excluded.remaining_qty,
			realized_pnl = excluded.realized_pnl,
			degraded = excluded.degraded,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Symbol, p.Timeframe, p.Direction, p.Status, p.EntryPrice, p.StopPrice,
		p.Qty, p.RemainingQty, p.RealizedPnL, boolToInt(p.Degraded), p.OpenedAt, p.ClosedAt)
	return err
}

// GetPosition returns one position by ID.
func (d *Database) GetPosition(ctx context.Context, id string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, timeframe, direction, status, entry_price, stop_price,
		       qty, remaining_qty, realized_pnl, COALESCE(degraded, 0),
		       COALESCE(opened_at, CURRENT_TIMESTAMP), COALESCE(closed_at, CURRENT_TIMESTAMP), updated_at
		FROM positions WHERE id = ?`, id)
	var p Position
	var degraded int
	if err := row.Scan(&p.ID, &p.Symbol, &p.Timeframe, &p.Direction, &p.Status, &p.EntryPrice, &p.StopPrice,
		&p.Qty, &p.RemainingQty, &p.RealizedPnL, &degraded, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Degraded = degraded != 0
	return &p, nil
}

// ListPositions returns positions, optionally filtered to open lifecycle states.
func (d *Database) ListPositions(ctx context.Context, openOnly bool) ([]Position, error) {
	q := `
		SELECT id, symbol, timeframe, direction, status, entry_price, stop_price,
		       qty, remaining_qty, realized_pnl, COALESCE(degraded, 0),
		       COALESCE(opened_at, CURRENT_TIMESTAMP), COALESCE(closed_at, CURRENT_TIMESTAMP), updated_at
		FROM positions`
	if openOnly {
		q += ` WHERE status IN ('NEW','OPEN','PARTIALLY_SCALED')`
	}
	q += ` ORDER BY updated_at DESC`

	rows, err := d.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		var degraded int
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Timeframe, &p.Direction, &p.Status, &p.EntryPrice, &p.StopPrice,
			&p.Qty, &p.RemainingQty, &p.RealizedPnL, &degraded, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Degraded = degraded != 0
		res = append(res, p)
	}
	return res, rows.Err()
}

// AppendPositionEvent adds one row to a position's audit trail.
func (d *Database) AppendPositionEvent(ctx context.Context, e PositionEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO position_events (position_id, event, detail, price, qty)
		VALUES (?, ?, ?, ?, ?)
	`, e.PositionID, e.Event, e.Detail, e.Price, e.Qty)
	return err
}

// ListPositionEvents returns the audit trail for one position, oldest first.
func (d *Database) ListPositionEvents(ctx context.Context, positionID string) ([]PositionEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT seq, position_id, event, COALESCE(detail, ''), price, qty, created_at
		FROM position_events WHERE position_id = ? ORDER BY seq ASC
	`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PositionEvent
	for rows.Next() {
		var e PositionEvent
		if err := rows.Scan(&e.Seq, &e.PositionID, &e.Event, &e.Detail, &e.Price, &e.Qty, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AddDailyResult accumulates one closed trade into the day's metrics row.
// Date is "YYYY-MM-DD".
func (d *Database) AddDailyResult(ctx context.Context, date string, pnl float64) error {
	win, loss := 0, 0
	if pnl > 0 {
		win = 1
	} else if pnl < 0 {
		loss = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_metrics (date, daily_pnl, daily_trades, daily_wins, daily_losses)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_pnl = daily_pnl + excluded.daily_pnl,
			daily_trades = daily_trades + 1,
			daily_wins = daily_wins + excluded.daily_wins,
			daily_losses = daily_losses + excluded.daily_losses
	`, date, pnl, win, loss)
	return err
}

// SumPnLSince returns realized PnL for all days >= from ("YYYY-MM-DD"),
// feeding the weekly and monthly loss limits.
func (d *Database) SumPnLSince(ctx context.Context, from string) (float64, error) {
	var sum sql.NullFloat64
	err := d.DB.QueryRowContext(ctx, `
		SELECT SUM(daily_pnl) FROM risk_metrics WHERE date >= ?
	`, from).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Float64, nil
}

// GetDailyMetrics returns the metrics row for one day, zeroed when absent.
func (d *Database) GetDailyMetrics(ctx context.Context, date string) (RiskMetrics, error) {
	m := RiskMetrics{Date: date}
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, daily_pnl, daily_trades, daily_wins, daily_losses
		FROM risk_metrics WHERE date = ?
	`, date).Scan(&m.Date, &m.DailyPnL, &m.DailyTrades, &m.DailyWins, &m.DailyLosses)
	if err == sql.ErrNoRows {
		return m, nil
	}
	return m, err
}

// UpsertStrategyInstance records one configured (symbol, timeframe) stream.
func (d *Database) UpsertStrategyInstance(ctx context.Context, s StrategyInstance) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_instances (id, symbol, timeframe, anchor, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			anchor = excluded.anchor,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, s.ID, s.Symbol, s.Timeframe, s.Anchor, s.IsActive)
	return err
}

// ListStrategyInstances returns all configured streams.
func (d *Database) ListStrategyInstances(ctx context.Context) ([]StrategyInstance, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, timeframe, anchor, is_active, created_at, updated_at
		FROM strategy_instances ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StrategyInstance
	for rows.Next() {
		var s StrategyInstance
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Timeframe, &s.Anchor, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertCandle stores a bar; duplicate (symbol, timeframe, ts) is ignored.
func (d *Database) InsertCandle(ctx context.Context, c Candle) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, ts) DO NOTHING
	`, c.Symbol, c.Timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	return err
}

// ListCandles returns the most recent bars for a stream, newest first.
func (d *Database) ListCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles WHERE symbol = ? AND timeframe = ?
		ORDER BY ts DESC LIMIT ?
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES (?, ?, ?)
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
