package queue

import "fmt"

// Event types emitted on the order lifecycle topic. Downstream consumers
// (notification service, seller wallet feed, cart UI) key off Type.
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderCancelled = "order.cancelled"
	EventOrderRefunded  = "order.refunded"
	EventOrderCompleted = "order.completed"
	EventCartCleared    = "cart.cleared"
	EventEscrowReleased = "escrow.released"
)

// OrderEvent is the JSON message written to Kafka, keyed by order number
// so one order's events stay in partition order.
type OrderEvent struct {
	Type          string `json:"type"`
	OrderNo       string `json:"order_no"`
	OrderID       uint   `json:"order_id"`
	BuyerID       uint   `json:"buyer_id"`
	SellerID      uint   `json:"seller_id,omitempty"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// Validate rejects events that would be useless to consumers.
func (e OrderEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	return nil
}
