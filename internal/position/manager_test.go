package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahekanna/gann-robot/internal/candle"
	"github.com/mahekanna/gann-robot/internal/events"
	"github.com/mahekanna/gann-robot/internal/levels"
	"github.com/mahekanna/gann-robot/internal/order"
	"github.com/mahekanna/gann-robot/internal/risk"
	"github.com/mahekanna/gann-robot/internal/signal"
	"github.com/mahekanna/gann-robot/pkg/config"
	"github.com/mahekanna/gann-robot/pkg/db"
)

type harness struct {
	m      *Manager
	risk   *risk.Controller
	set    *levels.Set
	orders chan order.Order
	cancel context.CancelFunc
}

func newHarness(t *testing.T, policy config.TargetPolicy) *harness {
	t.Helper()

	riskCtl, err := risk.NewController(
		config.RiskConfig{RiskPerTradePct: 0.002, MaxPositions: 5, DailyLossPct: 0.03, WeeklyLossPct: 0.05, MonthlyLossPct: 0.1},
		config.CapitalConfig{Total: 1_000_000, MaxPerTradePct: 1, MaxPerSymbol: 2},
		nil, time.Now(),
	)
	require.NoError(t, err)

	set, err := levels.Compute(650.25, levels.Config{
		Increments:   []float64{0.5},
		NumValues:    30,
		TickSize:     0.05,
		DeviationPct: 0.005,
	})
	require.NoError(t, err)

	q := order.NewQueue(64)
	ordersC := make(chan order.Order, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go q.Drain(ctx, func(o order.Order) { ordersC <- o })
	t.Cleanup(cancel)

	return &harness{
		m:      NewManager(policy, 0, riskCtl, q, nil, events.NewBus()),
		risk:   riskCtl,
		set:    set,
		orders: ordersC,
		cancel: cancel,
	}
}

func (h *harness) nextOrder(t *testing.T) order.Order {
	t.Helper()
	select {
	case o := <-h.orders:
		return o
	case <-time.After(time.Second):
		t.Fatal("expected an order submission")
		return order.Order{}
	}
}

func (h *harness) noOrder(t *testing.T) {
	t.Helper()
	select {
	case o := <-h.orders:
		t.Fatalf("unexpected order %s kind %s", o.ID, o.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func longSignal() *signal.Signal {
	return &signal.Signal{
		Direction: signal.Long,
		Symbol:    "SBIN",
		Timeframe: "5m",
		Price:     676.5,
		StopPrice: 675,
		Targets:   []float64{702.25, 729, 756.25},
	}
}

func fill(orderID string, price float64, qty int) order.Notification {
	return order.Notification{
		Type:      order.NotifyFill,
		OrderID:   orderID,
		Price:     price,
		Qty:       qty,
		Timestamp: time.Now(),
	}
}

func bar(o, h, l, c float64) candle.Candle {
	return candle.Candle{
		Symbol: "SBIN", Timeframe: "5m", Timestamp: time.Now(),
		Open: o, High: h, Low: l, Close: c, Volume: 1000,
	}
}

// openPosition drives a position through entry fill and returns it.
func openPosition(t *testing.T, h *harness) Position {
	t.Helper()
	p := h.m.Open(longSignal(), 400)
	entry := h.nextOrder(t)
	assert.Equal(t, order.KindEntry, entry.Kind)
	assert.Equal(t, order.SideBuy, entry.Side)
	h.m.OnFill(fill(entry.ID, 676.5, 400))

	got, ok := h.m.Get(p.ID)
	require.True(t, ok)
	require.Equal(t, StatusOpen, got.Status)
	return got
}

func TestSplitQuantitySumsExactly(t *testing.T) {
	assert.Equal(t, []int{132, 132, 136}, SplitQuantity(400, 3))
	assert.Equal(t, []int{3, 3, 4}, SplitQuantity(10, 3))
	assert.Equal(t, []int{33, 33, 34}, SplitQuantity(100, 3))
	assert.Equal(t, []int{7}, SplitQuantity(7, 1))

	for _, qty := range []int{1, 2, 3, 7, 100, 399, 400, 1001} {
		legs := SplitQuantity(qty, 3)
		sum := 0
		for _, l := range legs {
			sum += l
		}
		assert.Equal(t, qty, sum, "qty %d", qty)
	}
}

func TestEntryFillOpensPosition(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	assert.Equal(t, 400, p.RemainingQty)
	assert.InDelta(t, 676.5, p.EntryPrice, 1e-9)
	assert.True(t, h.m.HasOpen("SBIN", "5m"))
	assert.Equal(t, 1, h.risk.Snapshot().OpenPositions)
}

func TestPendingEntryGatesNewSignals(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	h.m.Open(longSignal(), 400)

	// NEW (entry not yet filled) still counts as open for signal gating.
	assert.True(t, h.m.HasOpen("SBIN", "5m"))
	assert.False(t, h.m.HasOpen("RELIANCE", "5m"))
}

func TestTargetLadderScalesOutToClose(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	// First target at 702.25 touched intrabar.
	h.m.OnCandle(bar(701, 703.5, 702.4, 703), h.set)
	t1 := h.nextOrder(t)
	assert.Equal(t, order.KindTarget, t1.Kind)
	assert.Equal(t, 132, t1.Qty)
	assert.InDelta(t, 702.25, t1.Price, 1e-9)

	// No transition until the fill is confirmed.
	got, _ := h.m.Get(p.ID)
	assert.Equal(t, StatusOpen, got.Status)

	h.m.OnFill(fill(t1.ID, 702.25, 132))
	got, _ = h.m.Get(p.ID)
	assert.Equal(t, StatusPartiallyScaled, got.Status)
	assert.Equal(t, 268, got.RemainingQty)
	assert.InDelta(t, (702.25-676.5)*132, got.RealizedPnL, 1e-6)

	// Second and third targets.
	h.m.OnCandle(bar(728, 729.5, 728.4, 729.2), h.set)
	t2 := h.nextOrder(t)
	assert.Equal(t, 132, t2.Qty)
	h.m.OnFill(fill(t2.ID, 729, 132))

	h.m.OnCandle(bar(755.8, 756.8, 756.3, 756.6), h.set)
	t3 := h.nextOrder(t)
	assert.Equal(t, 136, t3.Qty)
	h.m.OnFill(fill(t3.ID, 756.25, 136))

	got, _ = h.m.Get(p.ID)
	assert.Equal(t, StatusClosed, got.Status)
	assert.Zero(t, got.RemainingQty)
	assert.False(t, h.m.HasOpen("SBIN", "5m"))
	assert.Zero(t, h.risk.Snapshot().OpenPositions)
}

func TestDuplicateFillIsIdempotent(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	h.m.OnCandle(bar(701, 703.5, 702.4, 703), h.set)
	t1 := h.nextOrder(t)
	h.m.OnFill(fill(t1.ID, 702.25, 132))
	h.m.OnFill(fill(t1.ID, 702.25, 132))

	got, _ := h.m.Get(p.ID)
	assert.Equal(t, 268, got.RemainingQty)
	assert.InDelta(t, (702.25-676.5)*132, got.RealizedPnL, 1e-6)
	assert.InDelta(t, (702.25-676.5)*132, h.risk.Snapshot().DailyPnL, 1e-6)
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	// Price advances past 676: stop ratchets up to that level.
	h.m.OnCandle(bar(680, 690, 678, 689), h.set)
	got, _ := h.m.Get(p.ID)
	assert.InDelta(t, 676, got.StopPrice, 1e-9)

	// Further advance below the next level keeps the stop in place.
	h.m.OnCandle(bar(689, 700, 688, 699), h.set)
	got, _ = h.m.Get(p.ID)
	assert.InDelta(t, 676, got.StopPrice, 1e-9)

	// Crossing 702.25 lifts the stop again (and triggers target one).
	h.m.OnCandle(bar(701, 704, 702.6, 703.8), h.set)
	<-h.orders // target one submission
	got, _ = h.m.Get(p.ID)
	assert.InDelta(t, 702.25, got.StopPrice, 1e-9)

	// A pullback must not lower it.
	h.m.OnCandle(bar(703.5, 703.6, 702.5, 702.9), h.set)
	got, _ = h.m.Get(p.ID)
	assert.InDelta(t, 702.25, got.StopPrice, 1e-9)
}

func TestStopBreachClosesRemaining(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	h.m.OnCandle(bar(676, 677, 674, 674.5), h.set)
	stop := h.nextOrder(t)
	assert.Equal(t, order.KindStop, stop.Kind)
	assert.Equal(t, order.SideSell, stop.Side)
	assert.Equal(t, 400, stop.Qty)
	assert.True(t, stop.Urgent())

	// While the stop is in flight no further orders fire.
	h.m.OnCandle(bar(674, 675, 672, 673), h.set)
	h.noOrder(t)

	h.m.OnFill(fill(stop.ID, 675, 400))
	got, _ := h.m.Get(p.ID)
	assert.Equal(t, StatusStopped, got.Status)
	assert.InDelta(t, (675-676.5)*400, got.RealizedPnL, 1e-6)
	assert.Zero(t, h.risk.Snapshot().OpenPositions)
}

func TestSquareOffClosesAtMarket(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)
	h.m.OnCandle(bar(680, 681, 679, 680.5), h.set)

	h.m.SquareOffAll()
	sq := h.nextOrder(t)
	assert.Equal(t, order.KindSquareOff, sq.Kind)
	assert.True(t, sq.Urgent())
	assert.Equal(t, 400, sq.Qty)

	h.m.OnFill(fill(sq.ID, 680.5, 400))
	got, _ := h.m.Get(p.ID)
	assert.Equal(t, StatusSquaredOff, got.Status)
	assert.Zero(t, got.RemainingQty)
}

func TestTargetExtensionPastFinalLevel(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	// Gap candle closes beyond the final target 756.25 without reversal:
	// the whole unfilled ladder shifts outward along the level schedule.
	h.m.OnCandle(bar(757, 762, 756.5, 760), h.set)

	got, _ := h.m.Get(p.ID)
	require.Len(t, got.Targets, 3)
	assert.InDelta(t, 784, got.Targets[0].Price, 1e-9)
	assert.InDelta(t, 812.25, got.Targets[1].Price, 1e-9)
	assert.InDelta(t, 841, got.Targets[2].Price, 1e-9)

	// No scale-out at the stale levels.
	h.noOrder(t)
}

func TestRelevelPolicyRebuildsFromPrice(t *testing.T) {
	h := newHarness(t, config.TargetRelevel)
	p := openPosition(t, h)

	// Close at 790 sits past 784, so releveling from price starts at 812.25
	// while extending from the old final target would have started at 784.
	h.m.OnCandle(bar(788, 791, 787.5, 790), h.set)

	got, _ := h.m.Get(p.ID)
	assert.InDelta(t, 812.25, got.Targets[0].Price, 1e-9)
	assert.InDelta(t, 841, got.Targets[1].Price, 1e-9)
	assert.InDelta(t, 870.25, got.Targets[2].Price, 1e-9)
}

func TestRejectionMarksDegraded(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	h.m.OnCandle(bar(676, 677, 674, 674.5), h.set)
	stop := h.nextOrder(t)

	h.m.OnReject(stop.ID, "exchange unavailable")
	got, _ := h.m.Get(p.ID)
	assert.True(t, got.Degraded)
	assert.Equal(t, StatusOpen, got.Status)

	// The stop lane is clear again, so the next breach re-submits.
	h.m.OnCandle(bar(674, 675, 672, 673), h.set)
	next := h.nextOrder(t)
	assert.Equal(t, order.KindStop, next.Kind)
}

func TestFillReconciliationUpdatesOrderRow(t *testing.T) {
	store, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, db.ApplyMigrations(store))

	riskCtl, err := risk.NewController(
		config.RiskConfig{RiskPerTradePct: 0.002, MaxPositions: 5, DailyLossPct: 0.03, WeeklyLossPct: 0.05, MonthlyLossPct: 0.1},
		config.CapitalConfig{Total: 1_000_000, MaxPerTradePct: 1, MaxPerSymbol: 2},
		store, time.Now(),
	)
	require.NoError(t, err)

	q := order.NewQueue(64)
	ordersC := make(chan order.Order, 64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Drain(ctx, func(o order.Order) { ordersC <- o })

	bus := events.NewBus()
	fills, unsub := bus.Subscribe(events.EventOrderFilled, 4)
	defer unsub()

	m := NewManager(config.TargetExtend, 0, riskCtl, q, store, bus)
	m.Open(longSignal(), 400)

	var entry order.Order
	select {
	case entry = <-ordersC:
	case <-time.After(time.Second):
		t.Fatal("expected an entry order")
	}

	// The executor persists the order before the gateway reports the fill.
	require.NoError(t, store.CreateOrder(ctx, db.Order{
		ID: entry.ID, PositionID: entry.PositionID, Symbol: entry.Symbol,
		Side: entry.Side, Kind: entry.Kind, Price: entry.Price, Qty: entry.Qty,
		Status: order.StatusSubmitted, CreatedAt: time.Now(),
	}))
	open, err := store.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	m.OnFill(fill(entry.ID, 676.5, 400))

	// A fully filled order leaves the working set.
	open, err = store.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	select {
	case <-fills:
	case <-time.After(time.Second):
		t.Fatal("no order fill event")
	}
}

func TestUnrealizedPnLTracksLastPrice(t *testing.T) {
	h := newHarness(t, config.TargetExtend)
	p := openPosition(t, h)

	h.m.OnCandle(bar(680, 690, 678, 689), h.set)
	got, _ := h.m.Get(p.ID)
	assert.InDelta(t, (689-676.5)*400, got.UnrealizedPnL(), 1e-6)
}
