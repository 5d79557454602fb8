package order

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mahekanna/gann-robot/internal/events"
	"github.com/mahekanna/gann-robot/pkg/db"
)

// ExecutionResult represents the outcome of one order submission.
type ExecutionResult struct {
	OrderID   string        `json:"order_id"`
	Success   bool          `json:"success"`
	Degraded  bool          `json:"degraded"`
	Error     error         `json:"-"`
	ErrorMsg  string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// AsyncExecutor submits orders to the gateway without blocking the caller.
// Each submission is bounded by a timeout and retried once on failure; an
// order that fails both attempts is surfaced as degraded so the owning
// position stops trusting its local state until reconciled.
type AsyncExecutor struct {
	gateway Gateway
	store   *db.Database
	bus     *events.Bus
	timeout time.Duration

	resultCh   chan ExecutionResult
	workerPool chan struct{}
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
}

func NewAsyncExecutor(gateway Gateway, store *db.Database, bus *events.Bus, timeout time.Duration, workers int) *AsyncExecutor {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncExecutor{
		gateway:    gateway,
		store:      store,
		bus:        bus,
		timeout:    timeout,
		resultCh:   make(chan ExecutionResult, 100),
		workerPool: make(chan struct{}, workers),
	}
}

// ExecuteAsync submits an order for asynchronous execution.
func (a *AsyncExecutor) ExecuteAsync(ctx context.Context, o Order) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		log.Printf("executor closed, order dropped: %s", o.ID)
		return
	}
	// Add under the lock so Close cannot pass wg.Wait between the
	// closed check and the registration of this submission.
	a.wg.Add(1)
	a.mu.Unlock()

	a.workerPool <- struct{}{}

	go func() {
		defer a.wg.Done()
		defer func() { <-a.workerPool }()

		start := time.Now()
		err := a.submit(ctx, o)
		degraded := false
		if err != nil {
			log.Printf("order %s submit failed, retrying: %v", o.ID, err)
			err = a.submit(ctx, o)
			if err != nil {
				degraded = true
			}
		}

		result := ExecutionResult{
			OrderID:   o.ID,
			Success:   err == nil,
			Degraded:  degraded,
			Error:     err,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			result.ErrorMsg = err.Error()
			log.Printf("order %s failed after retry: %v (latency: %v)", o.ID, err, result.Latency)
			a.persistStatus(ctx, o, StatusRejected)
			a.bus.Publish(events.EventOrderRejected, result)
			a.bus.Publish(events.EventRiskAlert, "order execution degraded: "+o.ID)
		} else {
			log.Printf("order %s submitted %s %d %s @ %.2f (latency: %v)",
				o.ID, o.Side, o.Qty, o.Symbol, o.Price, result.Latency)
			a.persistStatus(ctx, o, StatusSubmitted)
			a.bus.Publish(events.EventOrderSubmitted, o)
		}

		select {
		case a.resultCh <- result:
		default:
			log.Printf("result channel full, dropping result for %s", o.ID)
		}
	}()
}

func (a *AsyncExecutor) submit(ctx context.Context, o Order) error {
	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.gateway.SubmitOrder(sctx, o)
}

func (a *AsyncExecutor) persistStatus(ctx context.Context, o Order, status string) {
	if a.store == nil {
		return
	}
	o.Status = status
	err := a.store.CreateOrder(ctx, db.Order{
		ID:         o.ID,
		PositionID: o.PositionID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Kind:       o.Kind,
		Price:      o.Price,
		Qty:        o.Qty,
		FilledQty:  o.FilledQty,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
	})
	if err != nil {
		// Could be a replay of an already-persisted order.
		if uerr := a.store.UpdateOrderStatus(ctx, o.ID, status); uerr != nil {
			log.Printf("persist order %s: %v", o.ID, err)
		}
	}
}

// Results returns the result channel for monitoring.
func (a *AsyncExecutor) Results() <-chan ExecutionResult {
	return a.resultCh
}

// Pending returns the number of in-flight submissions.
func (a *AsyncExecutor) Pending() int {
	return len(a.workerPool)
}

// WaitAll waits for all pending submissions to complete.
func (a *AsyncExecutor) WaitAll() {
	a.wg.Wait()
}

// Close gracefully shuts down the executor.
func (a *AsyncExecutor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()
	close(a.resultCh)
}
