package events

// Event enumerates high-level topics inside the execution engine.
type Event string

const (
	EventOrderPlaced          Event = "order.placed"
	EventOrderFilled          Event = "order.filled"
	EventOrderCancelled       Event = "order.cancelled"
	EventOrderFailed          Event = "order.failed"
	EventPositionSizeAdjusted Event = "risk.position_size_adjusted"
	EventRiskLimitExceeded    Event = "risk.limit_exceeded"
	EventEmergencyStop        Event = "engine.emergency_stop"
	EventPriceTick            Event = "market.price_tick"
)
