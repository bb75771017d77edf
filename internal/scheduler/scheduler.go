// Package scheduler advances orders through the delivery lifecycle on a
// fixed interval and triggers timeout-based auto-completion.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
	"bazaar/internal/settlement"
)

// Scheduler periodically sweeps non-terminal orders. Each order is
// advanced with a status-guarded update, so a sweep never clobbers a
// user-initiated cancel or refund racing on the same order.
type Scheduler struct {
	db         *gorm.DB
	engine     *settlement.Engine
	thresholds Thresholds
	interval   time.Duration
	logger     *slog.Logger
}

func New(db *gorm.DB, engine *settlement.Engine, thresholds Thresholds, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:         db,
		engine:     engine,
		thresholds: thresholds,
		interval:   interval,
		logger:     logger,
	}
}

// Run loops until the context is cancelled, sweeping once per interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				s.logger.ErrorContext(ctx, "scheduler sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep advances every due order once. Orders whose shipping state
// disagrees with their order state are skipped and logged; they need
// out-of-band review and must not be auto-advanced.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) error {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("status IN ?", []model.OrderStatus{
			model.OrderConfirmed, model.OrderProcessing, model.OrderShipped, model.OrderDelivered,
		}).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("list advanceable orders: %w", err)
	}

	for _, id := range ids {
		if err := s.advanceOne(ctx, id, now); err != nil {
			// One bad order must not stall the rest of the sweep.
			s.logger.ErrorContext(ctx, "failed to advance order",
				slog.Uint64("order_id", uint64(id)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *Scheduler) advanceOne(ctx context.Context, orderID uint, now time.Time) error {
	var complete bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		if err := tx.Preload("Shipping").First(&o, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil // cancelled and gone since the scan
			}
			return fmt.Errorf("load order %d: %w", orderID, err)
		}

		if err := settlement.CheckConsistency(&o); err != nil {
			// Mismatched orders need out-of-band review; advancing would
			// paper over the disagreement.
			s.logger.ErrorContext(ctx, "order and shipping status disagree, skipping",
				slog.String("order_no", o.OrderNo),
				slog.String("order_status", string(o.Status)),
				slog.String("shipping_status", string(o.Shipping.Status)),
			)
			return nil
		}

		next := NextState(&o, &o.Shipping, now, s.thresholds)
		if next == nil {
			return nil
		}
		if next.Order == model.OrderCompleted {
			// Completion releases escrows; hand off to the settlement
			// engine outside this transaction.
			complete = true
			return nil
		}

		// Status-guarded update: if a concurrent cancel won the race
		// after the scan, zero rows match and nothing moves, shipping
		// included.
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", o.ID, o.Status).
			Update("status", next.Order)
		if res.Error != nil {
			return fmt.Errorf("advance order %d: %w", o.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		updates := map[string]any{"status": next.Shipping}
		if next.MarkInTransit {
			updates["in_transit_at"] = now
		}
		if next.MarkDelivered {
			updates["delivered_at"] = now
		}
		if err := tx.Model(&model.Shipping{}).
			Where("order_id = ?", o.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("advance shipping of order %d: %w", o.ID, err)
		}

		s.logger.InfoContext(ctx, "order advanced",
			slog.String("order_no", o.OrderNo),
			slog.String("from", string(o.Status)),
			slog.String("to", string(next.Order)),
		)
		return nil
	})
	if err != nil {
		return err
	}

	if complete {
		if _, err := s.engine.Complete(ctx, orderID, 0); err != nil {
			// A cancel/refund may have slipped in between the scan and
			// this call; status conflicts are expected, not failures.
			if apperr.CodeOf(err) == apperr.CodeOrderCannotBeCompleted {
				return nil
			}
			return err
		}
	}
	return nil
}
