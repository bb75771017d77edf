// Package escrow holds per-seller proceeds between payment and delivery
// confirmation. Escrow rows change state only through these primitives;
// deciding when to call them belongs to the scheduler and the
// cancellation/refund engine.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
	"bazaar/internal/payment"
)

// Ledger owns all writes to order_item_escrows.
type Ledger struct {
	db       *gorm.DB
	payments *payment.Processor
	logger   *slog.Logger
}

func NewLedger(db *gorm.DB, payments *payment.Processor, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, payments: payments, logger: logger}
}

// Create opens the holding record for one paid order item, inside the
// caller's transaction. At most one escrow may ever exist per item.
func (l *Ledger) Create(tx *gorm.DB, item model.OrderItem) (*model.OrderItemEscrow, error) {
	var count int64
	if err := tx.Model(&model.OrderItemEscrow{}).
		Where("order_item_id = ?", item.ID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check existing escrow for item %d: %w", item.ID, err)
	}
	if count > 0 {
		return nil, apperr.Conflict(apperr.CodeEscrowAlreadyExists, "escrow already exists for order item %d", item.ID)
	}

	e := &model.OrderItemEscrow{
		OrderItemID: item.ID,
		OrderID:     item.OrderID,
		SellerID:    item.SellerID,
		Amount:      item.TotalPrice,
		Currency:    item.Currency,
		Status:      model.EscrowPending,
	}
	if err := tx.Create(e).Error; err != nil {
		return nil, fmt.Errorf("create escrow for item %d: %w", item.ID, err)
	}
	return e, nil
}

// Release transitions PENDING -> RELEASED and credits the seller's
// wallet, inside the caller's transaction. It returns the amount
// actually paid out. Calling it on a non-PENDING escrow is an error,
// never a silent no-op.
func (l *Ledger) Release(tx *gorm.DB, escrowID uint) (*model.OrderItemEscrow, int64, error) {
	e, err := l.takePending(tx, escrowID, model.EscrowReleased)
	if err != nil {
		return nil, 0, err
	}

	// Partial cancels/refunds already returned part of this item's money
	// to the buyer; the seller receives only what is left in the hold.
	reversed, err := reversedAmount(tx, e.OrderItemID)
	if err != nil {
		return nil, 0, err
	}
	payout := e.Amount - reversed
	if payout <= 0 {
		return e, 0, nil
	}
	if _, err := l.payments.PayoutSeller(tx, e.SellerID, payout, e.OrderID); err != nil {
		return nil, 0, fmt.Errorf("payout seller %d for escrow %d: %w", e.SellerID, e.ID, err)
	}
	return e, payout, nil
}

// MarkRefunded transitions PENDING -> REFUNDED. The buyer-side money
// movement is the caller's responsibility (refund engine).
func (l *Ledger) MarkRefunded(tx *gorm.DB, escrowID uint) (*model.OrderItemEscrow, error) {
	return l.terminate(tx, escrowID, model.EscrowRefunded)
}

// MarkCancelled transitions PENDING -> CANCELLED.
func (l *Ledger) MarkCancelled(tx *gorm.DB, escrowID uint) (*model.OrderItemEscrow, error) {
	return l.terminate(tx, escrowID, model.EscrowCancelled)
}

func (l *Ledger) terminate(tx *gorm.DB, escrowID uint, to model.EscrowStatus) (*model.OrderItemEscrow, error) {
	return l.takePending(tx, escrowID, to)
}

// takePending moves one escrow out of PENDING with a status-guarded
// update. Zero rows affected means the escrow is already terminal, so a
// second release or refund of the same hold always fails loudly.
func (l *Ledger) takePending(tx *gorm.DB, escrowID uint, to model.EscrowStatus) (*model.OrderItemEscrow, error) {
	var e model.OrderItemEscrow
	if err := tx.First(&e, escrowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.CodeOrderNotFound, "escrow %d not found", escrowID)
		}
		return nil, fmt.Errorf("load escrow %d: %w", escrowID, err)
	}

	res := tx.Model(&model.OrderItemEscrow{}).
		Where("id = ? AND status = ?", e.ID, model.EscrowPending).
		Update("status", to)
	if res.Error != nil {
		return nil, fmt.Errorf("transition escrow %d to %s: %w", e.ID, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict(apperr.CodeEscrowNotPending, "escrow %d is %s, not PENDING", e.ID, e.Status)
	}
	e.Status = to
	return &e, nil
}

// reversedAmount sums the cancel/refund ledger rows for one item.
func reversedAmount(tx *gorm.DB, orderItemID uint) (int64, error) {
	var cancelled, refunded int64
	if err := tx.Model(&model.OrderItemCancel{}).
		Where("order_item_id = ?", orderItemID).
		Select("COALESCE(SUM(amount), 0)").Scan(&cancelled).Error; err != nil {
		return 0, fmt.Errorf("sum cancelled amount for item %d: %w", orderItemID, err)
	}
	if err := tx.Model(&model.OrderItemRefund{}).
		Where("order_item_id = ?", orderItemID).
		Select("COALESCE(SUM(amount), 0)").Scan(&refunded).Error; err != nil {
		return 0, fmt.Errorf("sum refunded amount for item %d: %w", orderItemID, err)
	}
	return cancelled + refunded, nil
}

// FindPendingByOrder lists an order's escrows still held.
func (l *Ledger) FindPendingByOrder(ctx context.Context, orderID uint) ([]model.OrderItemEscrow, error) {
	var out []model.OrderItemEscrow
	err := l.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, model.EscrowPending).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find pending escrows for order %d: %w", orderID, err)
	}
	return out, nil
}

// FindByOrderItem loads the single escrow for an item, or nil when the
// item never had a successful payment.
func (l *Ledger) FindByOrderItem(ctx context.Context, orderItemID uint) (*model.OrderItemEscrow, error) {
	var e model.OrderItemEscrow
	err := l.db.WithContext(ctx).Where("order_item_id = ?", orderItemID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find escrow for item %d: %w", orderItemID, err)
	}
	return &e, nil
}
