package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mahekanna/gann-robot/internal/candle"
	"github.com/mahekanna/gann-robot/internal/events"
	"github.com/mahekanna/gann-robot/internal/indicators"
	"github.com/mahekanna/gann-robot/internal/levels"
	"github.com/mahekanna/gann-robot/internal/monitor"
	"github.com/mahekanna/gann-robot/internal/order"
	"github.com/mahekanna/gann-robot/internal/position"
	"github.com/mahekanna/gann-robot/internal/risk"
	"github.com/mahekanna/gann-robot/internal/signal"
	"github.com/mahekanna/gann-robot/pkg/config"
	"github.com/mahekanna/gann-robot/pkg/db"
)

// Instance is one (symbol, timeframe) strategy stream. Its candle processing
// is strictly sequential; distinct instances run concurrently and share only
// the risk controller.
type instance struct {
	id        string
	symbol    string
	timeframe string
	maxQty    int

	mu     sync.Mutex
	anchor float64

	levels     *levels.Engine
	signals    *signal.Engine
	indicators *indicators.Engine
	positions  *position.Manager

	candleC chan candle.Candle
}

func (i *instance) getAnchor() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.anchor
}

func (i *instance) setAnchor(v float64) {
	i.mu.Lock()
	i.anchor = v
	i.mu.Unlock()
}

// InstanceStatus is a reporting view of one strategy stream.
type InstanceStatus struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Timeframe     string  `json:"timeframe"`
	Anchor        float64 `json:"anchor"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	OpenPositions int     `json:"open_positions"`
}

// Coordinator routes candles to strategy instances, applies the session
// gate, and funnels approved signals through the shared risk controller.
type Coordinator struct {
	instances map[string]*instance
	risk      *risk.Controller
	session   *Session
	bus       *events.Bus
	store     *db.Database
	metrics   *monitor.SystemMetrics
	queue     *order.Queue

	mu      sync.Mutex
	lastDay string

	wg sync.WaitGroup
}

// New builds one instance per configured symbol on the primary timeframe.
func New(tc *config.TradingConfig, riskCtl *risk.Controller, session *Session, queue *order.Queue, store *db.Database, bus *events.Bus, metrics *monitor.SystemMetrics) *Coordinator {
	c := &Coordinator{
		instances: make(map[string]*instance),
		risk:      riskCtl,
		session:   session,
		bus:       bus,
		store:     store,
		metrics:   metrics,
		queue:     queue,
	}

	for _, sym := range tc.Symbols {
		tick := sym.TickSize
		if tick == 0 {
			tick = 0.05
		}
		buffer := tc.Strategy.BufferPct
		if sym.BufferPct > 0 {
			buffer = sym.BufferPct
		}

		lvlEngine := levels.NewEngine(levels.Config{
			Increments:   tc.Strategy.GannIncrements,
			NumValues:    tc.Strategy.NumValues,
			TickSize:     tick,
			DeviationPct: tc.Strategy.DeviationPct,
		})
		sigEngine := signal.NewEngine(signal.Config{
			PrimaryAngle:   tc.Strategy.PrimaryAngle,
			VolumeMultiple: tc.Strategy.VolumeMultiple,
			BufferPct:      buffer,
			NumTargets:     tc.Strategy.NumTargets,
			RSILongMax:     70,
			RSIShortMin:    30,
		})
		indEngine := indicators.NewEngine(tc.Strategy.RSIPeriod, tc.Strategy.VolumePeriod, 0)
		posManager := position.NewManager(tc.Strategy.TargetPolicy, tc.Strategy.PrimaryAngle, riskCtl, queue, store, bus)

		inst := &instance{
			id:         sym.Name + ":" + tc.Timeframes.Primary,
			symbol:     sym.Name,
			timeframe:  tc.Timeframes.Primary,
			maxQty:     sym.Quantity,
			levels:     lvlEngine,
			signals:    sigEngine,
			indicators: indEngine,
			positions:  posManager,
			candleC:    make(chan candle.Candle, 64),
		}
		c.instances[inst.id] = inst
	}
	return c
}

// Start launches one worker per instance and the routing loops for candles
// and execution reports. It returns immediately.
func (c *Coordinator) Start(ctx context.Context, notifications <-chan order.Notification) {
	for _, inst := range c.instances {
		if c.store != nil {
			err := c.store.UpsertStrategyInstance(context.Background(), db.StrategyInstance{
				ID: inst.id, Symbol: inst.symbol, Timeframe: inst.timeframe,
				Anchor: inst.getAnchor(), IsActive: true,
			})
			if err != nil {
				log.Printf("instance %s: persist registry: %v", inst.id, err)
			}
		}
		c.wg.Add(1)
		go c.runInstance(ctx, inst)
	}

	candles, unsubCandles := c.bus.Subscribe(events.EventCandle, 256)
	rejects, unsubRejects := c.bus.Subscribe(events.EventOrderRejected, 64)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsubCandles()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-candles:
				if !ok {
					return
				}
				bar, ok := msg.(candle.Candle)
				if !ok {
					continue
				}
				c.route(bar)
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsubRejects()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					return
				}
				c.dispatchNotification(n)
			case msg, ok := <-rejects:
				if !ok {
					return
				}
				if res, ok := msg.(order.ExecutionResult); ok {
					c.dispatchNotification(order.Notification{
						Type:    order.NotifyReject,
						OrderID: res.OrderID,
						Reason:  res.ErrorMsg,
					})
				}
			}
		}
	}()

	log.Printf("coordinator started with %d strategy instances", len(c.instances))
}

// Wait blocks until all workers have drained after context cancellation.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) route(bar candle.Candle) {
	inst, ok := c.instances[bar.Symbol+":"+bar.Timeframe]
	if !ok {
		return
	}
	select {
	case inst.candleC <- bar:
	default:
		log.Printf("instance %s: candle buffer full, dropping bar %s", inst.id, bar.Timestamp)
		c.metrics.IncrementErrors()
	}
}

// dispatchNotification fans an execution report out to every instance; the
// one owning the order reconciles it, the rest ignore it.
func (c *Coordinator) dispatchNotification(n order.Notification) {
	for _, inst := range c.instances {
		switch n.Type {
		case order.NotifyFill:
			inst.positions.OnFill(n)
		case order.NotifyReject:
			inst.positions.OnReject(n.OrderID, n.Reason)
		}
	}
}

func (c *Coordinator) runInstance(ctx context.Context, inst *instance) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-inst.candleC:
			if !ok {
				return
			}
			c.processCandle(inst, bar)
		}
	}
}

// processCandle is the per-bar pipeline: levels, position management,
// signal evaluation, risk admission. A panic in one instance is contained
// here so the other instances keep trading.
func (c *Coordinator) processCandle(inst *instance, bar candle.Candle) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("instance %s: panic recovered: %v", inst.id, r)
			c.metrics.IncrementErrors()
		}
	}()

	timer := monitor.NewTimer(c.metrics.CandleLatency)
	defer timer.Stop()
	c.metrics.IncrementCandles()

	if err := bar.Validate(); err != nil {
		log.Printf("instance %s: bad candle: %v", inst.id, err)
		c.metrics.IncrementErrors()
		return
	}

	c.rolloverDay(bar.Timestamp)

	if c.store != nil {
		err := c.store.InsertCandle(context.Background(), db.Candle{
			Symbol: bar.Symbol, Timeframe: bar.Timeframe, Timestamp: bar.Timestamp,
			Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume,
		})
		if err != nil {
			log.Printf("instance %s: persist candle: %v", inst.id, err)
		}
	}

	ind := inst.indicators.Update(bar)

	anchor := inst.getAnchor()
	if anchor == 0 {
		anchor = bar.Open
	}
	// Every primary-timeframe bar carries a fresh anchor, so the level
	// grid is rebuilt here rather than served from the drift cache.
	set, err := inst.levels.Levels(inst.symbol, anchor, true)
	if err != nil {
		log.Printf("instance %s: levels: %v", inst.id, err)
		c.metrics.IncrementErrors()
		inst.setAnchor(bar.Close)
		return
	}

	if c.session.ShouldSquareOff(bar.Timestamp) {
		inst.positions.OnCandle(bar, set)
		inst.positions.SquareOffAll()
		inst.setAnchor(bar.Close)
		return
	}

	inst.positions.OnCandle(bar, set)

	if c.session.CanEnter(bar.Timestamp) {
		hasOpen := inst.positions.HasOpen(inst.symbol, inst.timeframe)
		if sig := inst.signals.Evaluate(bar, set, ind, hasOpen); sig != nil {
			c.metrics.IncrementSignals()
			c.bus.Publish(events.EventSignal, *sig)
			c.admit(inst, sig)
		}
	}

	inst.setAnchor(bar.Close)
}

func (c *Coordinator) admit(inst *instance, sig *signal.Signal) {
	dec, err := c.risk.SizeAndApprove(sig.Symbol, sig.Price, sig.StopPrice)
	if err != nil {
		c.metrics.IncrementVetoes()
		log.Printf("instance %s: signal rejected: %v", inst.id, err)
		return
	}
	qty := dec.Quantity
	if inst.maxQty > 0 && qty > inst.maxQty {
		// The per-symbol override only ever trims; risk sizing stays
		// the upper bound.
		qty = inst.maxQty
	}
	c.metrics.IncrementOrders()
	inst.positions.Open(sig, qty)
}

// rolloverDay resets daily risk counters when the candle stream crosses a
// session-day boundary.
func (c *Coordinator) rolloverDay(ts time.Time) {
	day := c.session.Day(ts)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastDay == day {
		return
	}
	if c.lastDay != "" {
		c.risk.ResetDaily(ts)
	}
	c.lastDay = day
}

// Positions returns position snapshots across all instances.
func (c *Coordinator) Positions() []position.Position {
	var res []position.Position
	for _, inst := range c.instances {
		res = append(res, inst.positions.List()...)
	}
	return res
}

// SquareOffAll force-closes every live position across all instances.
func (c *Coordinator) SquareOffAll() {
	for _, inst := range c.instances {
		inst.positions.SquareOffAll()
	}
}

// Instances reports per-stream status with aggregated PnL.
func (c *Coordinator) Instances() []InstanceStatus {
	res := make([]InstanceStatus, 0, len(c.instances))
	for _, inst := range c.instances {
		st := InstanceStatus{
			ID:        inst.id,
			Symbol:    inst.symbol,
			Timeframe: inst.timeframe,
			Anchor:    inst.getAnchor(),
		}
		for _, p := range inst.positions.List() {
			st.RealizedPnL += p.RealizedPnL
			st.UnrealizedPnL += p.UnrealizedPnL()
			if !p.Status.Terminal() {
				st.OpenPositions++
			}
		}
		res = append(res, st)
	}
	return res
}
