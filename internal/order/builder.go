// Package order materializes carts into persisted Order aggregates and
// serves buyer/seller order views.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/cart"
	"bazaar/internal/model"
	"bazaar/internal/pricing"
)

const (
	maxNameLen  = 64
	maxNotesLen = 500

	// Collisions on the random suffix are vanishingly rare but the
	// unique index makes them loud; retry a couple of times.
	orderNoAttempts = 3
)

// CheckoutRequest is the buyer-supplied part of a checkout call.
type CheckoutRequest struct {
	ShippingAddressID uint              `json:"shipping_address_id" binding:"required"`
	BillingAddressID  *uint             `json:"billing_address_id"`
	PaymentType       model.PaymentType `json:"payment_type" binding:"required"`
	CouponCode        string            `json:"coupon_code"`
	OfferID           *uint             `json:"offer_id"`
	Notes             string            `json:"notes"`
	Name              string            `json:"name"`
	IdempotencyKey    string            `json:"idempotency_key"`
	VerificationCode  string            `json:"verification_code"`
}

// Builder creates order aggregates. It validates locally and never
// touches stock or payments; failures here are plain validation errors.
type Builder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewBuilder(db *gorm.DB, logger *slog.Logger) *Builder {
	return &Builder{db: db, logger: logger}
}

// CreateOrder persists a PENDING order with one item per cart line,
// pricing taken from the snapshot. A line missing from the snapshot
// falls back to the listing's current price (degraded mode, logged).
func (b *Builder) CreateOrder(ctx context.Context, buyerID uint, lines []cart.Line, req CheckoutRequest, snap pricing.Snapshot) (*model.Order, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation(apperr.CodeCartEmpty, "cart is empty")
	}
	if len(req.Name) > maxNameLen {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "name exceeds %d characters", maxNameLen)
	}
	if len(req.Notes) > maxNotesLen {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "notes exceed %d characters", maxNotesLen)
	}

	shipAddr, err := b.ownedAddress(ctx, buyerID, req.ShippingAddressID)
	if err != nil {
		return nil, err
	}
	var billAddr *model.AddressSnapshot
	if req.BillingAddressID != nil {
		a, err := b.ownedAddress(ctx, buyerID, *req.BillingAddressID)
		if err != nil {
			return nil, err
		}
		billAddr = a
	}

	items := make([]model.OrderItem, 0, len(lines))
	currency := snap.Currency
	if currency == "" {
		currency = "TRY"
	}
	for _, ln := range lines {
		var listing model.Listing
		if err := b.db.WithContext(ctx).First(&listing, ln.ListingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound(apperr.CodeListingNotFound, "listing %d not found", ln.ListingID)
			}
			return nil, fmt.Errorf("load listing %d: %w", ln.ListingID, err)
		}

		unitPrice := listing.Price
		lineTotal := listing.Price * int64(ln.Quantity)
		if lp, ok := snap.PerLine[ln.ListingID]; ok {
			unitPrice = lp.CampaignUnitPrice
			lineTotal = lp.LineSubtotal
		} else {
			b.logger.WarnContext(ctx, "pricing snapshot missing line, using listing price",
				slog.Uint64("listing_id", uint64(ln.ListingID)))
		}

		items = append(items, model.OrderItem{
			ListingID:  listing.ID,
			SellerID:   listing.SellerID,
			Category:   listing.Category,
			Quantity:   ln.Quantity,
			UnitPrice:  unitPrice,
			TotalPrice: lineTotal,
			Currency:   currency,
		})
	}

	o := &model.Order{
		BuyerID:          buyerID,
		Status:           model.OrderPending,
		PaymentStatus:    model.PaymentPending,
		Subtotal:         snap.Subtotal,
		CampaignDiscount: snap.CampaignDiscount,
		CouponDiscount:   snap.CouponDiscount,
		Total:            snap.Total,
		Currency:         currency,
		CouponCode:       req.CouponCode,
		ShippingAddress:  *shipAddr,
		BillingAddress:   billAddr,
		Name:             strings.TrimSpace(req.Name),
		Notes:            strings.TrimSpace(req.Notes),
		Items:            items,
		Shipping:         model.Shipping{Status: model.ShippingPending},
	}

	for attempt := 0; attempt < orderNoAttempts; attempt++ {
		o.OrderNo = newOrderNo()
		err = b.db.WithContext(ctx).Create(o).Error
		if err == nil {
			break
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("create order: %w", err)
		}
		// order_no collided with a concurrent creation; regenerate.
	}
	if err != nil {
		return nil, fmt.Errorf("create order: order number collision persisted: %w", err)
	}

	b.logger.InfoContext(ctx, "order created",
		slog.String("order_no", o.OrderNo),
		slog.Uint64("buyer_id", uint64(buyerID)),
		slog.Int64("total", o.Total),
	)
	return o, nil
}

func (b *Builder) ownedAddress(ctx context.Context, buyerID, addressID uint) (*model.AddressSnapshot, error) {
	var a model.Address
	if err := b.db.WithContext(ctx).First(&a, addressID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.CodeAddressNotFound, "address %d not found", addressID)
		}
		return nil, fmt.Errorf("load address %d: %w", addressID, err)
	}
	if a.UserID != buyerID {
		return nil, apperr.Validation(apperr.CodeAddressNotBelongToUser, "address %d does not belong to user %d", addressID, buyerID)
	}
	return &model.AddressSnapshot{
		AddressID: a.ID,
		Title:     a.Title,
		FullName:  a.FullName,
		Line:      a.Line,
		City:      a.City,
		Country:   a.Country,
		ZipCode:   a.ZipCode,
	}, nil
}

// newOrderNo builds a human-readable order number: date + time + random
// suffix, unique under the order_no index.
func newOrderNo() string {
	now := time.Now().UTC()
	return fmt.Sprintf("ORD-%s-%06d", now.Format("20060102-150405"), rand.Intn(1000000))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") || strings.Contains(s, "Duplicate")
}
