// Package payment splits an order's total across its sellers and
// processes one idempotent charge per seller, with bounded retry on
// write conflicts.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
	"bazaar/internal/order"
	rediskey "bazaar/pkg/redis"
)

// Result reports the outcome of a split payment run. AllSuccessful is
// false as soon as any seller's charge failed; the orchestrator then
// compensates the whole checkout.
type Result struct {
	Payments      []model.Payment
	AllSuccessful bool
	FailedSellers []uint
}

// Processor charges buyers per seller. Each charge runs in its own
// transaction so one seller's failure never poisons another's row.
type Processor struct {
	db         *gorm.DB
	rdb        *rd.Client
	strategies map[model.PaymentType]Strategy
	logger     *slog.Logger

	// RequireVerification enables the out-of-band second factor. When
	// set, a checkout without a valid code is rejected with
	// PAYMENT_VERIFICATION_REQUIRED after a fresh code is issued.
	RequireVerification bool
	CodeTTL             time.Duration
}

func NewProcessor(db *gorm.DB, rdb *rd.Client, strategies map[model.PaymentType]Strategy, logger *slog.Logger) *Processor {
	if strategies == nil {
		strategies = DefaultStrategies()
	}
	return &Processor{
		db:         db,
		rdb:        rdb,
		strategies: strategies,
		logger:     logger,
		CodeTTL:    10 * time.Minute,
	}
}

// sellerCharge is one seller's share of the order.
type sellerCharge struct {
	SellerID  uint
	Amount    int64
	ListingID *uint // set when the seller group is a single listing
}

// ProcessPayments groups the order's items by seller, applies the
// discount allocation, and issues one charge per seller.
func (p *Processor) ProcessPayments(ctx context.Context, buyerID uint, req order.CheckoutRequest, o *model.Order) (Result, error) {
	strategy, ok := p.strategies[req.PaymentType]
	if !ok {
		return Result{}, apperr.Validation(apperr.CodeUnsupportedPaymentType, "payment type %q is not supported", req.PaymentType)
	}

	charges := splitBySeller(o)
	if len(charges) == 0 {
		return Result{}, apperr.Validation(apperr.CodeCartEmpty, "order %d has no items", o.ID)
	}

	if err := p.checkVerification(ctx, buyerID, o.Total, req.VerificationCode); err != nil {
		return Result{}, err
	}

	res := Result{AllSuccessful: true}
	for _, c := range charges {
		key := req.IdempotencyKey
		if key != "" {
			// One caller key covers the whole checkout; scope it per
			// seller so the per-payment uniqueness still holds.
			key = fmt.Sprintf("%s:%d", key, c.SellerID)
		} else {
			key = deriveKey(o.ID, buyerID, c.SellerID, c.Amount, req.PaymentType)
		}

		pay, err := p.processOne(ctx, strategy, key, buyerID, c, o.ID)
		if err != nil {
			return res, err
		}
		res.Payments = append(res.Payments, *pay)
		if !pay.Success {
			res.AllSuccessful = false
			res.FailedSellers = append(res.FailedSellers, c.SellerID)
		}
	}
	return res, nil
}

// checkVerification consumes the supplied step-up code, or issues a
// fresh one and rejects the attempt when verification is on and no valid
// code was given.
func (p *Processor) checkVerification(ctx context.Context, buyerID uint, amount int64, code string) error {
	if !p.RequireVerification || p.rdb == nil {
		return nil
	}
	ok, err := rediskey.ConsumeVerificationCode(ctx, p.rdb, buyerID, amount, code)
	if err != nil {
		return fmt.Errorf("consume verification code: %w", err)
	}
	if ok {
		return nil
	}

	issued, err := rediskey.IssueVerificationCode(ctx, p.rdb, buyerID, amount, p.CodeTTL)
	if err != nil {
		return fmt.Errorf("issue verification code: %w", err)
	}
	// Delivery is out-of-band (SMS/email); here it only reaches the log.
	p.logger.InfoContext(ctx, "payment verification code issued",
		slog.Uint64("buyer_id", uint64(buyerID)),
		slog.String("code", issued),
	)
	if code != "" {
		return apperr.Conflict(apperr.CodePaymentVerificationMismatch, "verification code invalid or expired, a new one was issued")
	}
	return apperr.Conflict(apperr.CodePaymentVerificationRequired, "verification code required, one was issued out-of-band")
}

// processOne runs the idempotency-guarded charge protocol for a single
// seller, retrying the whole attempt on write conflicts.
func (p *Processor) processOne(ctx context.Context, strategy Strategy, key string, buyerID uint, c sellerCharge, orderID uint) (*model.Payment, error) {
	var out *model.Payment

	attempt := func() error {
		out = nil
		var execErr error

		err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := findByKey(tx, buyerID, key)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := matchExisting(existing, c, strategy.Type()); err != nil {
					return err
				}
				out = existing // no double charge
				return nil
			}

			charge := Charge{FromUserID: buyerID, ToUserID: c.SellerID, Amount: c.Amount, ListingID: c.ListingID}
			if err := strategy.Verify(ctx, tx, charge); err != nil {
				execErr = err
				return err // rollback; failure row is written separately
			}
			if err := strategy.Execute(ctx, tx, charge); err != nil {
				execErr = err
				return err
			}

			row := newPaymentRow(buyerID, key, c, orderID, strategy.Type(), true, "")
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			out = row
			return nil
		})

		if err != nil && execErr != nil {
			// The charge itself failed: record the failed attempt in its
			// own transaction, then surface per-seller failure.
			row := newPaymentRow(buyerID, key, c, orderID, strategy.Type(), false, apperr.CodeOf(execErr).String())
			if cerr := p.db.WithContext(ctx).Create(row).Error; cerr != nil && !isWriteConflict(cerr) {
				return cerr
			}
			out = row
			return nil
		}
		return err
	}

	err := withRetry(ctx, attempt, isWriteConflict)
	if err != nil {
		if isWriteConflict(err) {
			return nil, apperr.Conflict(apperr.CodeConcurrentUpdate, "payment for seller %d lost a concurrent update race", c.SellerID)
		}
		return nil, err
	}

	p.logger.InfoContext(ctx, "payment processed",
		slog.Uint64("buyer_id", uint64(buyerID)),
		slog.Uint64("seller_id", uint64(c.SellerID)),
		slog.Int64("amount", c.Amount),
		slog.Bool("success", out.Success),
	)
	return out, nil
}

// ReversePayment undoes one successful checkout charge during saga
// compensation. Wallet charges restore the buyer's balance; acquirer
// charges (credit, bank transfer) are voided at the acquirer, so only
// the reversal row is recorded.
func (p *Processor) ReversePayment(ctx context.Context, pay model.Payment) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		buyer := pay.FromUserID
		row := &model.Payment{
			FromUserID:      valueOr(pay.ToUserID, 0),
			ToUserID:        &buyer,
			Amount:          pay.Amount,
			Currency:        pay.Currency,
			PaymentType:     pay.PaymentType,
			TransactionType: model.TxRefund,
			Direction:       model.DirectionIncoming,
			ListingID:       pay.ListingID,
			OrderID:         pay.OrderID,
			IdempotencyKey:  "reversal:" + pay.IdempotencyKey,
			ProcessedAt:     time.Now().UTC(),
			Success:         true,
		}
		if err := tx.Create(row).Error; err != nil {
			if isWriteConflict(err) {
				return nil // this charge was already reversed
			}
			return fmt.Errorf("record payment reversal: %w", err)
		}
		// The reversal row inserted, so this is the first reversal; only
		// now is the buyer made whole. Acquirer charges (credit, bank
		// transfer) are voided at the acquirer and move no wallet money.
		if pay.PaymentType == model.PaymentTypeWallet {
			if err := CreditWallet(tx, pay.FromUserID, pay.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

func valueOr(p *uint, fallback uint) uint {
	if p == nil {
		return fallback
	}
	return *p
}

// RefundBuyer moves amount back to the buyer inside the caller's
// transaction and records the reversal as an INCOMING payment row.
func (p *Processor) RefundBuyer(tx *gorm.DB, buyerID, sellerID uint, amount int64, orderID uint) (*model.Payment, error) {
	if err := CreditWallet(tx, buyerID, amount); err != nil {
		return nil, err
	}
	from := sellerID
	row := &model.Payment{
		FromUserID:      from,
		ToUserID:        &buyerID,
		Amount:          amount,
		Currency:        "TRY",
		PaymentType:     model.PaymentTypeWallet,
		TransactionType: model.TxRefund,
		Direction:       model.DirectionIncoming,
		OrderID:         &orderID,
		IdempotencyKey:  uuid.NewString(),
		ProcessedAt:     time.Now().UTC(),
		Success:         true,
	}
	if err := tx.Create(row).Error; err != nil {
		return nil, fmt.Errorf("record refund payment: %w", err)
	}
	return row, nil
}

// PayoutSeller credits a seller's wallet at escrow release and records
// the payout row, inside the caller's transaction.
func (p *Processor) PayoutSeller(tx *gorm.DB, sellerID uint, amount int64, orderID uint) (*model.Payment, error) {
	if err := CreditWallet(tx, sellerID, amount); err != nil {
		return nil, err
	}
	row := &model.Payment{
		FromUserID:      sellerID,
		ToUserID:        &sellerID,
		Amount:          amount,
		Currency:        "TRY",
		PaymentType:     model.PaymentTypeWallet,
		TransactionType: model.TxEscrowPayout,
		Direction:       model.DirectionIncoming,
		OrderID:         &orderID,
		IdempotencyKey:  uuid.NewString(),
		ProcessedAt:     time.Now().UTC(),
		Success:         true,
	}
	if err := tx.Create(row).Error; err != nil {
		return nil, fmt.Errorf("record payout payment: %w", err)
	}
	return row, nil
}

// splitBySeller groups items per seller and allocates the order-level
// discounts proportionally, pushing rounding remainder onto the last
// seller so the charges sum exactly to the order total.
func splitBySeller(o *model.Order) []sellerCharge {
	subtotals := make(map[uint]int64)
	listings := make(map[uint][]uint)
	for _, it := range o.Items {
		subtotals[it.SellerID] += it.TotalPrice
		listings[it.SellerID] = append(listings[it.SellerID], it.ListingID)
	}

	sellers := make([]uint, 0, len(subtotals))
	for id := range subtotals {
		sellers = append(sellers, id)
	}
	sort.Slice(sellers, func(i, j int) bool { return sellers[i] < sellers[j] })

	discount := o.CampaignDiscount + o.CouponDiscount
	charges := make([]sellerCharge, 0, len(sellers))
	var allocated int64
	for i, id := range sellers {
		share := int64(0)
		if o.Subtotal > 0 {
			share = discount * subtotals[id] / o.Subtotal
		}
		if i == len(sellers)-1 {
			share = discount - allocated
		}
		allocated += share

		c := sellerCharge{SellerID: id, Amount: subtotals[id] - share}
		if ls := listings[id]; len(ls) == 1 {
			lid := ls[0]
			c.ListingID = &lid
		}
		charges = append(charges, c)
	}
	return charges
}

// deriveKey builds the deterministic idempotency key used when the
// caller supplies none. It is scoped to the order so retries within one
// checkout collapse, while a fresh checkout after remediation (a wallet
// top-up, say) gets a fresh key instead of a cached failure.
func deriveKey(orderID, buyerID, sellerID uint, amount int64, pt model.PaymentType) string {
	return fmt.Sprintf("%d:%d:%d:%d:%s", orderID, buyerID, sellerID, amount, pt)
}

func findByKey(tx *gorm.DB, fromUser uint, key string) (*model.Payment, error) {
	var existing model.Payment
	err := tx.Where("from_user_id = ? AND idempotency_key = ?", fromUser, key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup payment by key: %w", err)
	}
	return &existing, nil
}

// matchExisting guards against idempotency key reuse with different
// parameters.
func matchExisting(existing *model.Payment, c sellerCharge, pt model.PaymentType) error {
	mismatch := existing.Amount != c.Amount ||
		existing.PaymentType != pt ||
		existing.ToUserID == nil || *existing.ToUserID != c.SellerID
	if !mismatch && (existing.ListingID == nil) != (c.ListingID == nil) {
		mismatch = true
	}
	if !mismatch && existing.ListingID != nil && c.ListingID != nil && *existing.ListingID != *c.ListingID {
		mismatch = true
	}
	if mismatch {
		return apperr.Conflict(apperr.CodeIdempotencyKeyConflict,
			"idempotency key %q was already used with different parameters", existing.IdempotencyKey)
	}
	return nil
}

func newPaymentRow(buyerID uint, key string, c sellerCharge, orderID uint, pt model.PaymentType, success bool, failReason string) *model.Payment {
	seller := c.SellerID
	oid := orderID
	return &model.Payment{
		FromUserID:      buyerID,
		ToUserID:        &seller,
		Amount:          c.Amount,
		Currency:        "TRY",
		PaymentType:     pt,
		TransactionType: model.TxCheckout,
		Direction:       model.DirectionOutgoing,
		ListingID:       c.ListingID,
		OrderID:         &oid,
		IdempotencyKey:  key,
		ProcessedAt:     time.Now().UTC(),
		Success:         success,
		FailReason:      failReason,
	}
}

// isWriteConflict detects the insert race two same-key requests can hit
// (unique index violation) and database-is-busy conditions worth a
// second attempt.
func isWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") ||
		strings.Contains(s, "Duplicate") || strings.Contains(s, "database is locked")
}
