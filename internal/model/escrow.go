package model

import "time"

// EscrowStatus: PENDING is the only non-terminal state. RELEASED,
// REFUNDED and CANCELLED admit no further transition.
type EscrowStatus string

const (
	EscrowPending   EscrowStatus = "PENDING"
	EscrowReleased  EscrowStatus = "RELEASED"
	EscrowRefunded  EscrowStatus = "REFUNDED"
	EscrowCancelled EscrowStatus = "CANCELLED"
)

// Terminal reports whether the escrow may no longer change state.
func (s EscrowStatus) Terminal() bool { return s != EscrowPending }

// OrderItemEscrow holds one seller's proceeds for one order item until
// delivery is confirmed. At most one row per item, created only after
// that seller's payment succeeded. Amount equals the item total at
// creation time.
type OrderItemEscrow struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderItemID uint         `gorm:"not null;uniqueIndex" json:"order_item_id"`
	OrderID     uint         `gorm:"not null;index" json:"order_id"`
	SellerID    uint         `gorm:"not null;index" json:"seller_id"`
	Amount      int64        `gorm:"not null" json:"amount"`
	Currency    string       `gorm:"size:3;not null;default:TRY" json:"currency"`
	Status      EscrowStatus `gorm:"size:32;not null;default:PENDING;index" json:"status"`
}

func (OrderItemEscrow) TableName() string { return "order_item_escrows" }
