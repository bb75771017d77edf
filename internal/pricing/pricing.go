// Package pricing defines the snapshot contract checkout consumes. The
// orchestrator treats pricing as a pure function of its inputs and
// freezes the result into the order; it never re-prices after creation.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/cart"
	"bazaar/internal/model"
)

// LinePrice is the per-line breakdown inside a snapshot.
type LinePrice struct {
	ListingID         uint  `json:"listing_id"`
	Quantity          int   `json:"quantity"`
	CampaignUnitPrice int64 `json:"campaign_unit_price"`
	LineSubtotal      int64 `json:"line_subtotal"`
}

// Snapshot is a priced cart: totals plus the per-line unit prices the
// order builder copies into order items.
type Snapshot struct {
	Subtotal         int64  `json:"subtotal"`
	CampaignDiscount int64  `json:"campaign_discount"`
	CouponDiscount   int64  `json:"coupon_discount"`
	Total            int64  `json:"total"`
	Currency         string `json:"currency"`

	PerLine map[uint]LinePrice `json:"per_line"`
}

// Pricer is the external pricing subsystem contract.
type Pricer interface {
	Price(ctx context.Context, buyerID uint, lines []cart.Line, couponCode string, offerID *uint) (Snapshot, error)
}

// ListPricer is the built-in pricer: current listing prices, a fixed
// coupon table, no campaigns. Production deployments swap in the real
// pricing subsystem behind the same interface.
type ListPricer struct {
	db      *gorm.DB
	coupons map[string]int64 // coupon code -> flat discount in minor units
}

func NewListPricer(db *gorm.DB, coupons map[string]int64) *ListPricer {
	if coupons == nil {
		coupons = map[string]int64{}
	}
	return &ListPricer{db: db, coupons: coupons}
}

func (p *ListPricer) Price(ctx context.Context, buyerID uint, lines []cart.Line, couponCode string, offerID *uint) (Snapshot, error) {
	snap := Snapshot{Currency: "TRY", PerLine: make(map[uint]LinePrice, len(lines))}

	for _, ln := range lines {
		var listing model.Listing
		if err := p.db.WithContext(ctx).First(&listing, ln.ListingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Snapshot{}, apperr.NotFound(apperr.CodeListingNotFound, "listing %d not found", ln.ListingID)
			}
			return Snapshot{}, fmt.Errorf("price listing %d: %w", ln.ListingID, err)
		}

		lp := LinePrice{
			ListingID:         listing.ID,
			Quantity:          ln.Quantity,
			CampaignUnitPrice: listing.Price,
			LineSubtotal:      listing.Price * int64(ln.Quantity),
		}
		snap.PerLine[listing.ID] = lp
		snap.Subtotal += lp.LineSubtotal
	}

	if couponCode != "" {
		if discount, ok := p.coupons[couponCode]; ok {
			if discount > snap.Subtotal {
				discount = snap.Subtotal
			}
			snap.CouponDiscount = discount
		}
	}

	snap.Total = snap.Subtotal - snap.CampaignDiscount - snap.CouponDiscount
	return snap, nil
}
