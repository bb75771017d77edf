package model

import "time"

// CancelReason is the coded reason attached to a cancel/refund row.
type CancelReason string

const (
	ReasonBuyerRequest    CancelReason = "BUYER_REQUEST"
	ReasonSellerRequest   CancelReason = "SELLER_REQUEST"
	ReasonPaymentFailed   CancelReason = "PAYMENT_FAILED"
	ReasonDamagedGoods    CancelReason = "DAMAGED_GOODS"
	ReasonWrongItem       CancelReason = "WRONG_ITEM"
	ReasonNotAsDescribed  CancelReason = "NOT_AS_DESCRIBED"
	ReasonDeliveryProblem CancelReason = "DELIVERY_PROBLEM"
	ReasonOther           CancelReason = "OTHER"
)

// OrderItemCancel is an append-only ledger row: one per cancellation
// action on an item. The per-item sum of cancelled+refunded quantities,
// recomputed from these rows, is the source of truth for how much of the
// item remains eligible. Rows are never updated or deleted.
type OrderItemCancel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderItemID uint         `gorm:"not null;index" json:"order_item_id"`
	OrderID     uint         `gorm:"not null;index" json:"order_id"`
	Reason      CancelReason `gorm:"size:32;not null" json:"reason"`
	ReasonText  string       `gorm:"size:255" json:"reason_text,omitempty"`
	Quantity    int          `gorm:"not null" json:"quantity"`
	Amount      int64        `gorm:"not null" json:"amount"`
}

func (OrderItemCancel) TableName() string { return "order_item_cancels" }

// OrderItemRefund mirrors OrderItemCancel for post-delivery refunds.
type OrderItemRefund struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderItemID uint         `gorm:"not null;index" json:"order_item_id"`
	OrderID     uint         `gorm:"not null;index" json:"order_id"`
	Reason      CancelReason `gorm:"size:32;not null" json:"reason"`
	ReasonText  string       `gorm:"size:255" json:"reason_text,omitempty"`
	Quantity    int          `gorm:"not null" json:"quantity"`
	Amount      int64        `gorm:"not null" json:"amount"`
}

func (OrderItemRefund) TableName() string { return "order_item_refunds" }
