package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// PaperConfig tunes the simulated broker.
type PaperConfig struct {
	SlippageBps  float64 // basis points applied against the order side
	LatencyMinMs int
	LatencyMaxMs int
}

// PaperGateway is an in-process broker simulation. Every accepted order
// fills at the order price (plus slippage) after a short simulated latency,
// and the fill arrives asynchronously on Notifications like a real broker's
// execution report would.
type PaperGateway struct {
	cfg     PaperConfig
	notifyC chan Notification
	rng     *rand.Rand

	mu       sync.Mutex
	working  map[string]Order
	failNext int
	closed   bool
}

func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	if cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	return &PaperGateway{
		cfg:     cfg,
		notifyC: make(chan Notification, 256),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		working: make(map[string]Order),
	}
}

// FailNext makes the next n submissions return an error, for exercising the
// executor's retry path.
func (g *PaperGateway) FailNext(n int) {
	g.mu.Lock()
	g.failNext = n
	g.mu.Unlock()
}

func (g *PaperGateway) SubmitOrder(ctx context.Context, o Order) error {
	if o.Qty <= 0 {
		return fmt.Errorf("order %s: non-positive quantity %d", o.ID, o.Qty)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("order %s: unknown side %q", o.ID, o.Side)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return errors.New("paper gateway closed")
	}
	if g.failNext > 0 {
		g.failNext--
		g.mu.Unlock()
		return errors.New("simulated gateway failure")
	}
	g.working[o.ID] = o
	g.mu.Unlock()

	delay := g.fillDelay()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	go g.fill(o)
	return nil
}

func (g *PaperGateway) fill(o Order) {
	price := o.Price
	if g.cfg.SlippageBps > 0 {
		noise := g.rng.Float64() * g.cfg.SlippageBps / 10000.0
		if o.Side == SideBuy {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
	}

	g.mu.Lock()
	delete(g.working, o.ID)
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return
	}

	n := Notification{
		Type:      NotifyFill,
		OrderID:   o.ID,
		Price:     price,
		Qty:       o.Qty,
		Timestamp: time.Now(),
	}
	select {
	case g.notifyC <- n:
	default:
		log.Printf("paper gateway: notification buffer full, dropping fill for %s", o.ID)
	}
}

func (g *PaperGateway) ModifyOrder(ctx context.Context, orderID string, price float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.working[orderID]
	if !ok {
		return fmt.Errorf("modify %s: order not working", orderID)
	}
	o.Price = price
	g.working[orderID] = o
	return nil
}

func (g *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.working[orderID]; !ok {
		return fmt.Errorf("cancel %s: order not working", orderID)
	}
	delete(g.working, orderID)
	return nil
}

func (g *PaperGateway) Notifications() <-chan Notification {
	return g.notifyC
}

// Close stops notification delivery. Pending fills are discarded.
func (g *PaperGateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *PaperGateway) fillDelay() time.Duration {
	span := g.cfg.LatencyMaxMs - g.cfg.LatencyMinMs
	ms := g.cfg.LatencyMinMs
	if span > 0 {
		ms += g.rng.Intn(span + 1)
	}
	return time.Duration(ms) * time.Millisecond
}
