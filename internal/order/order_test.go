package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahekanna/gann-robot/internal/events"
)

func TestUrgentKindDetection(t *testing.T) {
	assert.False(t, (&Order{Kind: KindEntry}).Urgent())
	assert.False(t, (&Order{Kind: KindTarget}).Urgent())
	assert.True(t, (&Order{Kind: KindStop}).Urgent())
	assert.True(t, (&Order{Kind: KindSquareOff}).Urgent())
}

func TestUpdateFillDerivesStatus(t *testing.T) {
	o := Order{Qty: 400, Status: StatusSubmitted}

	o.UpdateFill(132)
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.Equal(t, 268, o.RemainingQty())

	o.UpdateFill(400)
	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.IsFullyFilled())
}

func TestQueueUrgentLaneDrainsFirst(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(Order{ID: "n1", Kind: KindEntry})
	q.Enqueue(Order{ID: "n2", Kind: KindTarget})
	q.Enqueue(Order{ID: "u1", Kind: KindStop})
	q.Enqueue(Order{ID: "u2", Kind: KindSquareOff})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idsC := make(chan string, 4)
	go q.Drain(ctx, func(o Order) { idsC <- o.ID })

	var got []string
	for i := 0; i < 4; i++ {
		select {
		case id := <-idsC:
			got = append(got, id)
		case <-time.After(time.Second):
			t.Fatal("queue drain stalled")
		}
	}
	assert.Equal(t, "u1", got[0])
	assert.Equal(t, "u2", got[1])
}

func TestPaperGatewayDeliversAsyncFill(t *testing.T) {
	g := NewPaperGateway(PaperConfig{})
	defer g.Close()

	o := Order{ID: "o1", Symbol: "SBIN", Side: SideBuy, Kind: KindEntry, Price: 676.5, Qty: 400}
	require.NoError(t, g.SubmitOrder(context.Background(), o))

	select {
	case n := <-g.Notifications():
		assert.Equal(t, NotifyFill, n.Type)
		assert.Equal(t, "o1", n.OrderID)
		assert.Equal(t, 400, n.Qty)
		assert.InDelta(t, 676.5, n.Price, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no fill notification")
	}
}

func TestPaperGatewayRejectsBadOrders(t *testing.T) {
	g := NewPaperGateway(PaperConfig{})
	defer g.Close()

	err := g.SubmitOrder(context.Background(), Order{ID: "o1", Side: SideBuy, Qty: 0})
	assert.Error(t, err)

	err = g.SubmitOrder(context.Background(), Order{ID: "o2", Side: "HOLD", Qty: 10})
	assert.Error(t, err)
}

func TestExecutorRetriesOnceThenSucceeds(t *testing.T) {
	g := NewPaperGateway(PaperConfig{})
	defer g.Close()
	bus := events.NewBus()
	ex := NewAsyncExecutor(g, nil, bus, time.Second, 2)
	defer ex.Close()

	g.FailNext(1)
	ex.ExecuteAsync(context.Background(), Order{ID: "o1", Symbol: "SBIN", Side: SideBuy, Kind: KindEntry, Price: 676.5, Qty: 400})

	select {
	case res := <-ex.Results():
		assert.True(t, res.Success)
		assert.False(t, res.Degraded)
	case <-time.After(time.Second):
		t.Fatal("no execution result")
	}
}

func TestExecutorDropsOrdersAfterClose(t *testing.T) {
	g := NewPaperGateway(PaperConfig{})
	defer g.Close()
	bus := events.NewBus()
	ex := NewAsyncExecutor(g, nil, bus, time.Second, 2)

	// Racing submissions against Close must never reach the result
	// channel after it is closed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			ex.ExecuteAsync(context.Background(), Order{ID: "o1", Symbol: "SBIN", Side: SideBuy, Kind: KindEntry, Price: 676.5, Qty: 1})
		}
	}()
	ex.Close()
	<-done

	ex.ExecuteAsync(context.Background(), Order{ID: "late", Symbol: "SBIN", Side: SideBuy, Kind: KindEntry, Price: 676.5, Qty: 1})
	assert.Equal(t, 0, ex.Pending())
}

func TestExecutorMarksDegradedAfterSecondFailure(t *testing.T) {
	g := NewPaperGateway(PaperConfig{})
	defer g.Close()
	bus := events.NewBus()
	alerts, unsub := bus.Subscribe(events.EventRiskAlert, 4)
	defer unsub()

	ex := NewAsyncExecutor(g, nil, bus, time.Second, 2)
	defer ex.Close()

	g.FailNext(2)
	ex.ExecuteAsync(context.Background(), Order{ID: "o1", Symbol: "SBIN", Side: SideBuy, Kind: KindStop, Price: 675, Qty: 400})

	select {
	case res := <-ex.Results():
		assert.False(t, res.Success)
		assert.True(t, res.Degraded)
		assert.NotEmpty(t, res.ErrorMsg)
	case <-time.After(time.Second):
		t.Fatal("no execution result")
	}

	select {
	case <-alerts:
	case <-time.After(time.Second):
		t.Fatal("no risk alert for degraded order")
	}
}
