package order

import "context"

// Gateway abstracts the broker connection. Submit/Modify/Cancel are
// synchronous acknowledgements only; fills and rejections arrive later on
// Notifications, keyed by order ID.
type Gateway interface {
	SubmitOrder(ctx context.Context, o Order) error
	ModifyOrder(ctx context.Context, orderID string, price float64) error
	CancelOrder(ctx context.Context, orderID string) error
	Notifications() <-chan Notification
}
