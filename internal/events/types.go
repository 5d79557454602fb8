package events

// Event enumerates the topics flowing through the trading core.
type Event string

const (
	EventCandle         Event = "candle"
	EventSignal         Event = "signal"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderFilled    Event = "order.filled"
	EventOrderRejected  Event = "order.rejected"
	EventPositionUpdate Event = "position.update"
	EventTradeClosed    Event = "trade.closed"
	EventRiskAlert      Event = "risk.alert"
)
