package payment

import (
	"context"
	"time"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
)

// Charge is what a strategy processes: one buyer-to-seller movement.
type Charge struct {
	FromUserID uint
	ToUserID   uint
	Amount     int64
	ListingID  *uint
}

// Strategy executes one charge inside the caller's payment transaction.
// Verify rejects charges the strategy cannot carry; Execute performs the
// actual money movement.
type Strategy interface {
	Type() model.PaymentType
	Verify(ctx context.Context, tx *gorm.DB, c Charge) error
	Execute(ctx context.Context, tx *gorm.DB, c Charge) error
}

// WalletStrategy pays from the buyer's wallet balance. The seller side
// is credited later, at escrow release, never here.
type WalletStrategy struct{}

func (WalletStrategy) Type() model.PaymentType { return model.PaymentTypeWallet }

func (WalletStrategy) Verify(ctx context.Context, tx *gorm.DB, c Charge) error {
	var w model.Wallet
	if err := tx.Where("user_id = ?", c.FromUserID).First(&w).Error; err == nil && w.Balance < c.Amount {
		return apperr.Conflict(apperr.CodeInsufficientFunds,
			"wallet of user %d has %d, needs %d", c.FromUserID, w.Balance, c.Amount)
	}
	return nil
}

func (WalletStrategy) Execute(ctx context.Context, tx *gorm.DB, c Charge) error {
	return DebitWallet(tx, c.FromUserID, c.Amount)
}

// acquirer simulates a synchronous external acquiring call with a
// bounded timeout escalating to failure.
func acquirer(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return apperr.Wrap(apperr.CodePaymentFailed, 502, ctx.Err(), "acquirer timed out")
	default:
		return nil
	}
}

// CreditStrategy charges the buyer's credit line through the acquirer.
type CreditStrategy struct {
	Timeout time.Duration
}

func (CreditStrategy) Type() model.PaymentType { return model.PaymentTypeCredit }

func (s CreditStrategy) Verify(ctx context.Context, tx *gorm.DB, c Charge) error {
	if c.Amount <= 0 {
		return apperr.Validation(apperr.CodeInvalidRequest, "amount must be > 0")
	}
	return nil
}

func (s CreditStrategy) Execute(ctx context.Context, tx *gorm.DB, c Charge) error {
	return acquirer(ctx, s.timeout())
}

func (s CreditStrategy) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 10 * time.Second
}

// BankTransferStrategy records a synchronous bank transfer charge.
type BankTransferStrategy struct {
	Timeout time.Duration
}

func (BankTransferStrategy) Type() model.PaymentType { return model.PaymentTypeBankTransfer }

func (s BankTransferStrategy) Verify(ctx context.Context, tx *gorm.DB, c Charge) error {
	if c.Amount <= 0 {
		return apperr.Validation(apperr.CodeInvalidRequest, "amount must be > 0")
	}
	return nil
}

func (s BankTransferStrategy) Execute(ctx context.Context, tx *gorm.DB, c Charge) error {
	return acquirer(ctx, s.timeout())
}

func (s BankTransferStrategy) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 10 * time.Second
}

// DefaultStrategies wires the three supported payment types.
func DefaultStrategies() map[model.PaymentType]Strategy {
	return map[model.PaymentType]Strategy{
		model.PaymentTypeWallet:       WalletStrategy{},
		model.PaymentTypeCredit:       CreditStrategy{},
		model.PaymentTypeBankTransfer: BankTransferStrategy{},
	}
}
