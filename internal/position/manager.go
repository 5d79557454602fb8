package position

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahekanna/gann-robot/internal/candle"
	"github.com/mahekanna/gann-robot/internal/events"
	"github.com/mahekanna/gann-robot/internal/levels"
	"github.com/mahekanna/gann-robot/internal/order"
	"github.com/mahekanna/gann-robot/internal/risk"
	"github.com/mahekanna/gann-robot/internal/signal"
	"github.com/mahekanna/gann-robot/pkg/config"
	"github.com/mahekanna/gann-robot/pkg/db"
)

type orderRef struct {
	positionID string
	kind       string
	targetIdx  int
	qty        int
}

// Manager owns open positions for one strategy instance: the target ladder,
// trailing stop, square-off, and fill reconciliation. Exit and scale-out
// requests go out through the order queue; positions transition only when
// the matching fill notification comes back.
type Manager struct {
	mu        sync.Mutex
	positions map[string]*Position
	orders    map[string]orderRef
	processed map[string]bool

	policy config.TargetPolicy
	angle  int

	risk  *risk.Controller
	queue *order.Queue
	store *db.Database
	bus   *events.Bus
}

func NewManager(policy config.TargetPolicy, angle int, riskCtl *risk.Controller, queue *order.Queue, store *db.Database, bus *events.Bus) *Manager {
	return &Manager{
		positions: make(map[string]*Position),
		orders:    make(map[string]orderRef),
		processed: make(map[string]bool),
		policy:    policy,
		angle:     angle,
		risk:      riskCtl,
		queue:     queue,
		store:     store,
		bus:       bus,
	}
}

// Open creates a NEW position for an approved signal and submits the entry
// order. The position stays NEW until the entry fill is reconciled.
func (m *Manager) Open(sig *signal.Signal, qty int) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	legs := SplitQuantity(qty, len(sig.Targets))
	targets := make([]Target, len(sig.Targets))
	for i, price := range sig.Targets {
		targets[i] = Target{Price: price, Qty: legs[i]}
	}

	p := &Position{
		ID:           uuid.NewString(),
		Symbol:       sig.Symbol,
		Timeframe:    sig.Timeframe,
		Direction:    sig.Direction,
		Status:       StatusNew,
		EntryPrice:   sig.Price,
		StopPrice:    sig.StopPrice,
		Qty:          qty,
		RemainingQty: qty,
		Targets:      targets,
	}

	side := order.SideBuy
	if p.Direction == signal.Short {
		side = order.SideSell
	}
	o := order.Order{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       side,
		Kind:       order.KindEntry,
		Price:      sig.Price,
		Qty:        qty,
		Status:     order.StatusNew,
		CreatedAt:  time.Now(),
	}
	p.entryOrderID = o.ID
	m.positions[p.ID] = p
	m.orders[o.ID] = orderRef{positionID: p.ID, kind: order.KindEntry, qty: o.Qty}
	m.queue.Enqueue(o)

	log.Printf("position %s: entry %s %d %s @ %.2f stop %.2f", p.ID, side, qty, p.Symbol, sig.Price, sig.StopPrice)
	return p
}

// OnCandle advances trailing stops and fires stop/scale-out requests for
// every live position on this candle's stream.
func (m *Manager) OnCandle(c candle.Candle, set *levels.Set) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.positions {
		if p.Symbol != c.Symbol || p.Timeframe != c.Timeframe {
			continue
		}
		if p.Status != StatusOpen && p.Status != StatusPartiallyScaled {
			continue
		}
		p.LastPrice = c.Close

		m.trailStop(p, set, c)
		if p.exitPending() {
			continue
		}

		long := p.Direction == signal.Long
		if (long && c.Low <= p.StopPrice) || (!long && c.High >= p.StopPrice) {
			m.submitExit(p, order.KindStop, p.StopPrice)
			continue
		}

		m.adjustTargets(p, set, c)

		for i := range p.Targets {
			t := &p.Targets[i]
			if t.Filled || t.OrderID != "" {
				continue
			}
			if (long && c.High >= t.Price) || (!long && c.Low <= t.Price) {
				m.submitScaleOut(p, i)
			}
		}
	}
}

// trailStop ratchets the stop to the nearest level behind price. A long stop
// only rises, a short stop only falls.
func (m *Manager) trailStop(p *Position, set *levels.Set, c candle.Candle) {
	if set == nil {
		return
	}
	var candidate levels.Level
	var ok bool
	if p.Direction == signal.Long {
		candidate, ok = set.NearestBelow(c.Close, m.angle)
		if !ok || candidate.Value <= p.StopPrice {
			return
		}
	} else {
		candidate, ok = set.NearestAbove(c.Close, m.angle)
		if !ok || candidate.Value >= p.StopPrice {
			return
		}
	}

	old := p.StopPrice
	p.StopPrice = candidate.Value
	m.appendEvent(p, "STOP_ADJUSTED", fmt.Sprintf("%.2f -> %.2f", old, p.StopPrice), p.StopPrice, 0)
	m.bus.Publish(events.EventPositionUpdate, p.snapshot())
}

// adjustTargets handles the run past the final target: when price closes
// beyond the last ladder level without reversing, the unfilled legs are
// moved outward instead of being closed at the stale level.
func (m *Manager) adjustTargets(p *Position, set *levels.Set, c candle.Candle) {
	if set == nil || len(p.Targets) == 0 {
		return
	}
	final := p.Targets[len(p.Targets)-1]
	if final.Filled || final.OrderID != "" {
		return
	}

	long := p.Direction == signal.Long
	if long && !(c.Close > final.Price && c.Close >= c.Open) {
		return
	}
	if !long && !(c.Close < final.Price && c.Close <= c.Open) {
		return
	}

	var unfilled []int
	for i := range p.Targets {
		if !p.Targets[i].Filled && p.Targets[i].OrderID == "" {
			unfilled = append(unfilled, i)
		}
	}
	if len(unfilled) == 0 {
		return
	}

	// "extend" continues the ladder from the old final level; "relevel"
	// rebuilds it from the current price.
	from := final.Price
	if m.policy == config.TargetRelevel {
		from = c.Close
	}
	var fresh []levels.Level
	if long {
		fresh = set.Above(from, m.angle, len(unfilled))
	} else {
		fresh = set.Below(from, m.angle, len(unfilled))
	}
	if len(fresh) < len(unfilled) {
		return
	}

	for n, idx := range unfilled {
		old := p.Targets[idx].Price
		p.Targets[idx].Price = fresh[n].Value
		m.appendEvent(p, "TARGET_EXTENDED", fmt.Sprintf("%.2f -> %.2f", old, fresh[n].Value), fresh[n].Value, p.Targets[idx].Qty)
	}
	log.Printf("position %s: targets moved outward past %.2f (%s)", p.ID, final.Price, m.policy)
}

func (m *Manager) submitScaleOut(p *Position, idx int) {
	t := &p.Targets[idx]
	o := m.exitOrder(p, order.KindTarget, t.Price, t.Qty)
	t.OrderID = o.ID
	m.orders[o.ID] = orderRef{positionID: p.ID, kind: order.KindTarget, targetIdx: idx, qty: o.Qty}
	m.queue.Enqueue(o)
}

func (m *Manager) submitExit(p *Position, kind string, price float64) {
	o := m.exitOrder(p, kind, price, p.RemainingQty)
	switch kind {
	case order.KindStop:
		p.stopOrderID = o.ID
	case order.KindSquareOff:
		p.squareOffOrderID = o.ID
	}
	m.orders[o.ID] = orderRef{positionID: p.ID, kind: kind, qty: o.Qty}
	m.queue.Enqueue(o)
	log.Printf("position %s: %s exit %d @ %.2f", p.ID, kind, o.Qty, price)
}

func (m *Manager) exitOrder(p *Position, kind string, price float64, qty int) order.Order {
	side := order.SideSell
	if p.Direction == signal.Short {
		side = order.SideBuy
	}
	return order.Order{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       side,
		Kind:       kind,
		Price:      price,
		Qty:        qty,
		Status:     order.StatusNew,
		CreatedAt:  time.Now(),
	}
}

// SquareOffAll force-closes every live position at market. Positions with an
// exit already in flight are left to that exit.
func (m *Manager) SquareOffAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.positions {
		if p.Status != StatusOpen && p.Status != StatusPartiallyScaled {
			continue
		}
		if p.exitPending() {
			continue
		}
		m.submitExit(p, order.KindSquareOff, p.LastPrice)
	}
}

// OnFill reconciles an asynchronous execution report. Duplicate
// notifications for the same order ID are no-ops.
func (m *Manager) OnFill(n order.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed[n.OrderID] {
		return
	}
	ref, ok := m.orders[n.OrderID]
	if !ok {
		return
	}
	p, ok := m.positions[ref.positionID]
	if !ok {
		return
	}
	m.processed[n.OrderID] = true

	ctx := context.Background()
	m.recordFill(ctx, p, ref, n)
	m.bus.Publish(events.EventOrderFilled, n)

	switch ref.kind {
	case order.KindEntry:
		m.applyEntryFill(p, n)
	case order.KindTarget:
		m.applyTargetFill(ctx, p, ref.targetIdx, n)
	case order.KindStop:
		m.applyCloseFill(ctx, p, StatusStopped, n)
	case order.KindSquareOff:
		m.applyCloseFill(ctx, p, StatusSquaredOff, n)
	}

	m.persist(ctx, p)
	m.bus.Publish(events.EventPositionUpdate, p.snapshot())
	if p.Status.Terminal() {
		m.bus.Publish(events.EventTradeClosed, p.snapshot())
	}
}

func (m *Manager) applyEntryFill(p *Position, n order.Notification) {
	if p.Status != StatusNew {
		return
	}
	p.Status = StatusOpen
	p.EntryPrice = n.Price
	p.LastPrice = n.Price
	p.OpenedAt = n.Timestamp
	m.risk.RegisterOpen(p.ID, p.Symbol, p.EntryPrice, p.Qty)
	m.appendEvent(p, "OPENED", "", n.Price, n.Qty)
	log.Printf("position %s: OPEN %s %d %s @ %.2f", p.ID, p.Direction, p.Qty, p.Symbol, n.Price)
}

func (m *Manager) applyTargetFill(ctx context.Context, p *Position, idx int, n order.Notification) {
	if p.Status.Terminal() || idx >= len(p.Targets) {
		return
	}
	t := &p.Targets[idx]
	t.Filled = true
	t.OrderID = ""

	pnl := p.legPnL(n.Price, n.Qty)
	p.RealizedPnL += pnl
	p.RemainingQty -= n.Qty
	if p.RemainingQty <= 0 {
		p.RemainingQty = 0
		p.Status = StatusClosed
		p.ClosedAt = n.Timestamp
	} else {
		p.Status = StatusPartiallyScaled
	}
	if err := m.risk.RegisterScaleOut(ctx, p.ID, n.Qty, pnl); err != nil {
		log.Printf("position %s: risk update failed: %v", p.ID, err)
	}
	m.appendEvent(p, "TARGET_FILLED", fmt.Sprintf("target %d", idx+1), n.Price, n.Qty)
	log.Printf("position %s: target %d filled %d @ %.2f pnl %.2f", p.ID, idx+1, n.Qty, n.Price, pnl)
}

func (m *Manager) applyCloseFill(ctx context.Context, p *Position, status Status, n order.Notification) {
	if p.Status.Terminal() {
		return
	}
	pnl := p.legPnL(n.Price, n.Qty)
	p.RealizedPnL += pnl
	p.RemainingQty = 0
	p.Status = status
	p.ClosedAt = n.Timestamp
	p.stopOrderID = ""
	p.squareOffOrderID = ""

	err := m.risk.RegisterClose(ctx, risk.TradeResult{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		PnL:        pnl,
		ClosedAt:   n.Timestamp,
	})
	if err != nil {
		log.Printf("position %s: risk update failed: %v", p.ID, err)
	}
	m.appendEvent(p, string(status), "", n.Price, n.Qty)
	log.Printf("position %s: %s %d @ %.2f pnl %.2f (total %.2f)", p.ID, status, n.Qty, n.Price, pnl, p.RealizedPnL)
}

// OnReject marks the owning position degraded so external intervention can
// reconcile it; the engine does not keep retrying on its own.
func (m *Manager) OnReject(orderID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.orders[orderID]
	if !ok || m.processed[orderID] {
		return
	}
	m.processed[orderID] = true
	p, ok := m.positions[ref.positionID]
	if !ok {
		return
	}

	switch ref.kind {
	case order.KindTarget:
		if ref.targetIdx < len(p.Targets) {
			p.Targets[ref.targetIdx].OrderID = ""
		}
	case order.KindStop:
		p.stopOrderID = ""
	case order.KindSquareOff:
		p.squareOffOrderID = ""
	}
	p.Degraded = true
	m.appendEvent(p, "ORDER_REJECTED", reason, 0, 0)
	m.bus.Publish(events.EventRiskAlert, fmt.Sprintf("position %s degraded: order %s rejected: %s", p.ID, orderID, reason))
	log.Printf("position %s: degraded, order %s rejected: %s", p.ID, orderID, reason)
}

// HasOpen reports whether a live (or pending-entry) position exists for the
// stream, gating new signals.
func (m *Manager) HasOpen(symbol, timeframe string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.Symbol == symbol && p.Timeframe == timeframe && !p.Status.Terminal() {
			return true
		}
	}
	return false
}

// Get returns a copy of one position.
func (m *Manager) Get(id string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return Position{}, false
	}
	return p.snapshot(), true
}

// List returns copies of all tracked positions.
func (m *Manager) List() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		res = append(res, p.snapshot())
	}
	return res
}

func (p *Position) snapshot() Position {
	cp := *p
	cp.Targets = make([]Target, len(p.Targets))
	copy(cp.Targets, p.Targets)
	return cp
}

func (m *Manager) appendEvent(p *Position, event, detail string, price float64, qty int) {
	if m.store == nil {
		return
	}
	err := m.store.AppendPositionEvent(context.Background(), db.PositionEvent{
		PositionID: p.ID,
		Event:      event,
		Detail:     detail,
		Price:      price,
		Qty:        qty,
	})
	if err != nil {
		log.Printf("position %s: persist event %s: %v", p.ID, event, err)
	}
}

func (m *Manager) recordFill(ctx context.Context, p *Position, ref orderRef, n order.Notification) {
	if m.store == nil {
		return
	}
	side := order.SideBuy
	if p.Direction == signal.Short {
		side = order.SideSell
	}
	if ref.kind != order.KindEntry {
		if side == order.SideBuy {
			side = order.SideSell
		} else {
			side = order.SideBuy
		}
	}
	_, err := m.store.RecordFill(ctx, db.Trade{
		ID:         uuid.NewString(),
		OrderID:    n.OrderID,
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       side,
		Price:      n.Price,
		Qty:        n.Qty,
		CreatedAt:  n.Timestamp,
	})
	if err != nil {
		log.Printf("position %s: persist fill %s: %v", p.ID, n.OrderID, err)
	}

	status := order.StatusFilled
	if ref.qty > 0 && n.Qty < ref.qty {
		status = order.StatusPartiallyFilled
	}
	if err := m.store.UpdateOrderFill(ctx, n.OrderID, status, n.Qty, n.Price); err != nil {
		log.Printf("position %s: persist order fill %s: %v", p.ID, n.OrderID, err)
	}
}

func (m *Manager) persist(ctx context.Context, p *Position) {
	if m.store == nil {
		return
	}
	err := m.store.UpsertPosition(ctx, db.Position{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Timeframe:    p.Timeframe,
		Direction:    string(p.Direction),
		Status:       string(p.Status),
		EntryPrice:   p.EntryPrice,
		StopPrice:    p.StopPrice,
		Qty:          p.Qty,
		RemainingQty: p.RemainingQty,
		RealizedPnL:  p.RealizedPnL,
		Degraded:     p.Degraded,
		OpenedAt:     p.OpenedAt,
		ClosedAt:     p.ClosedAt,
	})
	if err != nil {
		log.Printf("position %s: persist: %v", p.ID, err)
	}
}
