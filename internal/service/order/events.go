package order

import "time"

// Event types published on the order topic.
const (
	EventLogisticsStatusUpdated = "order.logistics_status_updated"
	EventPharmacyStatusUpdated  = "order.pharmacy_status_updated"
	EventCollectionDateUpdated  = "order.collection_date_updated"
	EventLogAppended            = "order.log_appended"
	EventRemarkAppended         = "order.remark_appended"
)

// OrderEvent is emitted after every successful order mutation.
type OrderEvent struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	OrderID string    `json:"orderId"`
	Role    string    `json:"role"`
	Field   string    `json:"field"`
	Value   any       `json:"value,omitempty"`
	Actor   string    `json:"actor,omitempty"`
	At      time.Time `json:"at"`
}
