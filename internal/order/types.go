package order

import "time"

// Side of an order.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Kind classifies why the order exists within a position's lifecycle.
// Stop and square-off orders take the urgent execution lane.
const (
	KindEntry     = "ENTRY"
	KindTarget    = "TARGET"
	KindStop      = "STOP"
	KindSquareOff = "SQUARE_OFF"
)

// Order statuses.
const (
	StatusNew             = "NEW"
	StatusSubmitted       = "SUBMITTED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusRejected        = "REJECTED"
	StatusCancelled       = "CANCELLED"
)

// Order represents one order intent sent to the gateway.
type Order struct {
	ID         string
	PositionID string
	Symbol     string
	Side       string
	Kind       string
	Price      float64
	Qty        int
	FilledQty  int
	Status     string
	CreatedAt  time.Time
}

// Urgent reports whether the order must jump the execution queue.
func (o *Order) Urgent() bool {
	return o.Kind == KindStop || o.Kind == KindSquareOff
}

// IsFullyFilled checks if the order is fully filled.
func (o *Order) IsFullyFilled() bool {
	return o.FilledQty >= o.Qty
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() int {
	return o.Qty - o.FilledQty
}

// UpdateFill applies a cumulative filled quantity and derives the status.
func (o *Order) UpdateFill(filledQty int) {
	o.FilledQty = filledQty
	if o.IsFullyFilled() {
		o.Status = StatusFilled
	} else if o.FilledQty > 0 {
		o.Status = StatusPartiallyFilled
	}
}

// Notification types delivered asynchronously by a gateway.
const (
	NotifyFill   = "FILL"
	NotifyReject = "REJECT"
)

// Notification is an asynchronous execution report keyed by order ID.
// Gateways may deliver the same notification more than once; consumers
// reconcile idempotently.
type Notification struct {
	Type      string
	OrderID   string
	Price     float64
	Qty       int
	Reason    string
	Timestamp time.Time
}
