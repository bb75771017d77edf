// Package stock is the sole writer of listing quantities during
// checkout: it decrements on reserve and increments on compensation.
// Every decrement is a guarded atomic update, so two checkouts racing
// for the last unit serialize on the listing row and the loser fails
// fast instead of overselling.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
)

// Line is one (listing, quantity) pair to reserve.
type Line struct {
	ListingID uint
	Quantity  int
}

// Service reserves and releases listing stock.
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Reserve verifies and decrements every requested listing atomically.
// Listings whose category is not quantity-tracked are skipped. On any
// shortfall the whole transaction rolls back and the call fails with
// STOCK_INSUFFICIENT, leaving no partial decrement behind.
//
// The returned map records exactly what was decremented so the caller
// can issue matching compensating increments later.
func (s *Service) Reserve(ctx context.Context, lines []Line) (map[uint]int, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation(apperr.CodeCartEmpty, "no lines to reserve")
	}

	// Touch rows in listing-id order so two overlapping checkouts cannot
	// deadlock on each other.
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ListingID < sorted[j].ListingID })

	reserved := make(map[uint]int, len(sorted))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ln := range sorted {
			if ln.Quantity <= 0 {
				return apperr.Validation(apperr.CodeInvalidRequest, "quantity must be > 0 for listing %d", ln.ListingID)
			}

			var listing model.Listing
			if err := tx.First(&listing, ln.ListingID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound(apperr.CodeListingNotFound, "listing %d not found", ln.ListingID)
				}
				return fmt.Errorf("load listing %d: %w", ln.ListingID, err)
			}
			if !listing.Active {
				return apperr.NotFound(apperr.CodeListingNotFound, "listing %d is not active", ln.ListingID)
			}
			if !listing.Category.QuantityTracked() {
				continue
			}

			// Guarded decrement: zero rows affected means a concurrent
			// checkout drained the stock between the read and here.
			res := tx.Model(&model.Listing{}).
				Where("id = ? AND quantity >= ?", listing.ID, ln.Quantity).
				UpdateColumn("quantity", gorm.Expr("quantity - ?", ln.Quantity))
			if res.Error != nil {
				return fmt.Errorf("decrement listing %d: %w", listing.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict(apperr.CodeStockInsufficient,
					"listing %d cannot cover requested quantity %d", listing.ID, ln.Quantity)
			}
			reserved[listing.ID] += ln.Quantity
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "stock reserved", slog.Int("listings", len(reserved)))
	return reserved, nil
}

// Release puts previously reserved quantities back. Used as the
// compensating action when a later checkout step fails.
func (s *Service) Release(ctx context.Context, reserved map[uint]int) error {
	if len(reserved) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(reserved))
	for id := range reserved {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			if err := tx.Model(&model.Listing{}).
				Where("id = ?", id).
				UpdateColumn("quantity", gorm.Expr("quantity + ?", reserved[id])).Error; err != nil {
				return fmt.Errorf("restore listing %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "stock released", slog.Int("listings", len(reserved)))
	return nil
}
