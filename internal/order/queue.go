package order

import "context"

// Queue buffers orders before execution. Stop and square-off orders go
// through a separate lane that Drain always serves first.
type Queue struct {
	normal chan Order
	urgent chan Order
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		normal: make(chan Order, size),
		urgent: make(chan Order, size),
	}
}

func (q *Queue) Enqueue(o Order) {
	if o.Urgent() {
		q.urgent <- o
		return
	}
	q.normal <- o
}

// Drain consumes orders with a handler until the context is canceled.
// Whenever both lanes hold orders, the urgent lane wins.
func (q *Queue) Drain(ctx context.Context, handler func(Order)) {
	for {
		// Urgent lane first, without blocking on it.
		select {
		case o := <-q.urgent:
			handler(o)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case o := <-q.urgent:
			handler(o)
		case o := <-q.normal:
			// An urgent order that arrived while we were blocked on both
			// lanes may have lost the race; re-check before the normal one.
			select {
			case u := <-q.urgent:
				handler(u)
			default:
			}
			handler(o)
		}
	}
}

// Depth returns queued order counts for monitoring.
func (q *Queue) Depth() (normal, urgent int) {
	return len(q.normal), len(q.urgent)
}
