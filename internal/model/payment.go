package model

import "time"

// PaymentType selects the processing strategy declared by the buyer.
type PaymentType string

const (
	PaymentTypeWallet       PaymentType = "WALLET"
	PaymentTypeCredit       PaymentType = "CREDIT"
	PaymentTypeBankTransfer PaymentType = "BANK_TRANSFER"
)

// TransactionType classifies what a payment row was for.
type TransactionType string

const (
	TxCheckout     TransactionType = "CHECKOUT"
	TxRefund       TransactionType = "REFUND"
	TxEscrowPayout TransactionType = "ESCROW_PAYOUT"
)

// PaymentDirection: OUTGOING debits the from-user, INCOMING credits them.
type PaymentDirection string

const (
	DirectionOutgoing PaymentDirection = "OUTGOING"
	DirectionIncoming PaymentDirection = "INCOMING"
)

// Payment is one seller-scoped charge (or reversal). Exactly one row per
// (from_user_id, idempotency_key); a retried request with the same key
// returns this row instead of charging again.
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FromUserID uint  `gorm:"not null;index;uniqueIndex:ux_payments_from_idem" json:"from_user_id"`
	ToUserID   *uint `gorm:"index" json:"to_user_id,omitempty"` // nil for system fees

	Amount   int64  `gorm:"not null" json:"amount"`
	Currency string `gorm:"size:3;not null;default:TRY" json:"currency"`

	PaymentType     PaymentType      `gorm:"size:32;not null" json:"payment_type"`
	TransactionType TransactionType  `gorm:"size:32;not null" json:"transaction_type"`
	Direction       PaymentDirection `gorm:"size:16;not null" json:"direction"`

	ListingID      *uint  `gorm:"index" json:"listing_id,omitempty"`
	OrderID        *uint  `gorm:"index" json:"order_id,omitempty"`
	IdempotencyKey string `gorm:"size:128;not null;uniqueIndex:ux_payments_from_idem" json:"idempotency_key"`

	ProcessedAt time.Time `json:"processed_at"`
	Success     bool      `gorm:"not null" json:"success"`
	FailReason  string    `gorm:"size:255" json:"fail_reason,omitempty"`
}

func (Payment) TableName() string { return "payments" }

// Wallet backs the WALLET payment strategy and receives escrow payouts.
// Balance is in minor units and only moves inside payment transactions.
type Wallet struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   uint   `gorm:"not null;uniqueIndex" json:"user_id"`
	Balance  int64  `gorm:"not null;default:0" json:"balance"`
	Currency string `gorm:"size:3;not null;default:TRY" json:"currency"`
}

func (Wallet) TableName() string { return "wallets" }

// Address belongs to a user's address book. Checkout snapshots it into
// the order instead of referencing it live.
type Address struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   uint   `gorm:"not null;index" json:"user_id"`
	Title    string `gorm:"size:64" json:"title"`
	FullName string `gorm:"size:128;not null" json:"full_name"`
	Line     string `gorm:"size:255;not null" json:"line"`
	City     string `gorm:"size:64;not null" json:"city"`
	Country  string `gorm:"size:64;not null;default:Türkiye" json:"country"`
	ZipCode  string `gorm:"size:16" json:"zip_code"`
}

func (Address) TableName() string { return "addresses" }
