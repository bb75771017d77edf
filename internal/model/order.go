package model

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus is the order lifecycle state machine.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

// Terminal reports whether the status admits no further transition.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled, OrderRefunded:
		return true
	default:
		return false
	}
}

// PaymentStatus tracks money state independently of delivery state.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// AddressSnapshot is frozen into the order at checkout so later edits to
// the buyer's address book cannot rewrite history.
type AddressSnapshot struct {
	AddressID uint   `json:"address_id"`
	Title     string `json:"title"`
	FullName  string `json:"full_name"`
	Line      string `json:"line"`
	City      string `json:"city"`
	Country   string `json:"country"`
	ZipCode   string `json:"zip_code"`
}

// Order is the aggregate root produced by checkout. Totals are fixed at
// creation; cancel/refund deltas live in their own ledger tables.
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNo string `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	BuyerID uint   `gorm:"not null;index" json:"buyer_id"`

	Status        OrderStatus   `gorm:"size:32;not null;default:PENDING;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:32;not null;default:PENDING" json:"payment_status"`

	Subtotal         int64  `gorm:"not null" json:"subtotal"`
	CampaignDiscount int64  `gorm:"not null;default:0" json:"campaign_discount"`
	CouponDiscount   int64  `gorm:"not null;default:0" json:"coupon_discount"`
	Total            int64  `gorm:"not null" json:"total"`
	Currency         string `gorm:"size:3;not null;default:TRY" json:"currency"`

	CouponCode string `gorm:"size:64" json:"coupon_code,omitempty"`

	ShippingAddress AddressSnapshot  `gorm:"embedded;embeddedPrefix:ship_" json:"shipping_address"`
	BillingAddress  *AddressSnapshot `gorm:"embedded;embeddedPrefix:bill_" json:"billing_address,omitempty"`

	Name  string `gorm:"size:64" json:"name,omitempty"`
	Notes string `gorm:"size:500" json:"notes,omitempty"`

	Items    []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	Shipping Shipping    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"shipping"`
}

func (Order) TableName() string { return "orders" }

// OrderItem is a cart line frozen at checkout. SellerID is captured here
// so the row stays attributable if the listing is later reassigned or
// deleted. TotalPrice is never mutated after creation.
type OrderItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID   uint            `gorm:"not null;index" json:"order_id"`
	ListingID uint            `gorm:"not null;index" json:"listing_id"`
	SellerID  uint            `gorm:"not null;index" json:"seller_id"`
	Category  ListingCategory `gorm:"size:32;not null" json:"category"`

	Quantity   int    `gorm:"not null" json:"quantity"`
	UnitPrice  int64  `gorm:"not null" json:"unit_price"`
	TotalPrice int64  `gorm:"not null" json:"total_price"`
	Currency   string `gorm:"size:3;not null;default:TRY" json:"currency"`
	Note       string `gorm:"size:255" json:"note,omitempty"`
}

func (OrderItem) TableName() string { return "order_items" }
