package model

import "time"

// ShippingStatus is the delivery state machine coupled to OrderStatus.
type ShippingStatus string

const (
	ShippingPending   ShippingStatus = "PENDING"
	ShippingInTransit ShippingStatus = "IN_TRANSIT"
	ShippingDelivered ShippingStatus = "DELIVERED"
	ShippingCancelled ShippingStatus = "CANCELLED"
)

// Shipping is owned 1:1 by Order. Transition timestamps feed the
// scheduler's elapsed-time thresholds and the refund window check.
type Shipping struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID     uint           `gorm:"not null;uniqueIndex" json:"order_id"`
	Status      ShippingStatus `gorm:"size:32;not null;default:PENDING" json:"status"`
	InTransitAt *time.Time     `json:"in_transit_at,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

func (Shipping) TableName() string { return "shippings" }
