// Package settlement drives the compensating side of the marketplace:
// cancellation of confirmed orders, post-delivery refunds, and order
// completion with escrow release. Both cancel and refund are idempotent
// at the item-quantity level through the append-only ledger rows; the
// recomputed ledger sum, never a counter, decides what remains eligible.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/escrow"
	"bazaar/internal/model"
	"bazaar/internal/payment"
	"bazaar/internal/queue"
)

// ItemTarget names one order item in a cancel/refund request. Quantity 0
// means everything still remaining on the item.
type ItemTarget struct {
	OrderItemID uint `json:"order_item_id"`
	Quantity    int  `json:"quantity"`
}

// Request is a cancellation or refund command. Empty Items targets every
// item on the order.
type Request struct {
	Items      []ItemTarget       `json:"items"`
	Reason     model.CancelReason `json:"reason"`
	ReasonText string             `json:"reason_text"`
}

// Engine coordinates ledger writes, escrow transitions and buyer
// reversals in one transaction per command.
type Engine struct {
	db       *gorm.DB
	escrows  *escrow.Ledger
	payments *payment.Processor
	events   queue.Publisher
	logger   *slog.Logger

	refundWindow time.Duration
}

func NewEngine(db *gorm.DB, escrows *escrow.Ledger, payments *payment.Processor, events queue.Publisher, refundWindow time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		db:           db,
		escrows:      escrows,
		payments:     payments,
		events:       events,
		logger:       logger,
		refundWindow: refundWindow,
	}
}

// Cancel reverses part or all of a CONFIRMED order before delivery.
func (e *Engine) Cancel(ctx context.Context, orderID, buyerID uint, req Request) (*model.Order, error) {
	return e.reverse(ctx, orderID, buyerID, req, false)
}

// Refund reverses part or all of a DELIVERED order inside the refund
// window.
func (e *Engine) Refund(ctx context.Context, orderID, buyerID uint, req Request) (*model.Order, error) {
	return e.reverse(ctx, orderID, buyerID, req, true)
}

func (e *Engine) reverse(ctx context.Context, orderID, buyerID uint, req Request, isRefund bool) (*model.Order, error) {
	if req.Reason == "" {
		req.Reason = model.ReasonBuyerRequest
	}

	var out *model.Order
	var eventType string
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrder(tx, orderID, buyerID)
		if err != nil {
			return err
		}

		if isRefund {
			if o.Status != model.OrderDelivered {
				return apperr.Conflict(apperr.CodeOrderCannotBeRefunded, "order %s is %s, refunds need DELIVERED", o.OrderNo, o.Status)
			}
		} else {
			if o.Status != model.OrderConfirmed {
				return apperr.Conflict(apperr.CodeOrderCannotBeCancelled, "order %s is %s, cancellation needs CONFIRMED", o.OrderNo, o.Status)
			}
		}
		if err := CheckConsistency(o); err != nil {
			return err
		}
		if isRefund {
			if o.Shipping.DeliveredAt == nil {
				return apperr.Conflict(apperr.CodeOrderShippingMismatch, "order %s is DELIVERED without a delivery timestamp", o.OrderNo)
			}
			if time.Since(*o.Shipping.DeliveredAt) >= e.refundWindow {
				return apperr.Conflict(apperr.CodeRefundTimeExpired, "refund window of %s has passed for order %s", e.refundWindow, o.OrderNo)
			}
		}

		targets, err := resolveTargets(o, req.Items)
		if err != nil {
			return err
		}

		// First pass: compute remaining per item and validate every
		// requested quantity before mutating anything.
		type action struct {
			item model.OrderItem
			qty  int
		}
		var actions []action
		for _, t := range targets {
			remaining, err := remainingQuantity(tx, t.item)
			if err != nil {
				return err
			}
			qty := t.quantity
			if qty == 0 {
				qty = remaining
			}
			if qty == 0 {
				continue // already fully reversed, skip
			}
			if qty > remaining {
				if isRefund {
					return apperr.Conflict(apperr.CodeRefundQuantityExceeds,
						"item %d has %d refundable, requested %d", t.item.ID, remaining, qty)
				}
				return apperr.Conflict(apperr.CodeRefundQuantityExceeds,
					"item %d has %d cancellable, requested %d", t.item.ID, remaining, qty)
			}
			actions = append(actions, action{item: t.item, qty: qty})
		}
		if len(actions) == 0 {
			if isRefund {
				return apperr.Conflict(apperr.CodeOrderItemAlreadyRefunded, "every targeted item of order %s is already fully reversed", o.OrderNo)
			}
			return apperr.Conflict(apperr.CodeOrderItemAlreadyCancelled, "every targeted item of order %s is already fully reversed", o.OrderNo)
		}

		// Refunds additionally require that no targeted escrow has been
		// released to the seller yet.
		if isRefund {
			for _, a := range actions {
				var esc model.OrderItemEscrow
				err := tx.Where("order_item_id = ?", a.item.ID).First(&esc).Error
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("load escrow for item %d: %w", a.item.ID, err)
				}
				if err == nil && esc.Status == model.EscrowReleased {
					return apperr.Conflict(apperr.CodeOrderCannotBeRefunded,
						"escrow for item %d was already released to the seller", a.item.ID)
				}
			}
		}

		// Second pass: ledger rows, buyer reversal, escrow transitions.
		for _, a := range actions {
			amount := a.item.UnitPrice * int64(a.qty)

			if isRefund {
				row := model.OrderItemRefund{
					OrderItemID: a.item.ID,
					OrderID:     o.ID,
					Reason:      req.Reason,
					ReasonText:  req.ReasonText,
					Quantity:    a.qty,
					Amount:      amount,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("write refund row for item %d: %w", a.item.ID, err)
				}
			} else {
				row := model.OrderItemCancel{
					OrderItemID: a.item.ID,
					OrderID:     o.ID,
					Reason:      req.Reason,
					ReasonText:  req.ReasonText,
					Quantity:    a.qty,
					Amount:      amount,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("write cancel row for item %d: %w", a.item.ID, err)
				}
			}

			if _, err := e.payments.RefundBuyer(tx, o.BuyerID, a.item.SellerID, amount, o.ID); err != nil {
				return err
			}

			// Transition the escrow once the item is fully reversed.
			nowRemaining, err := remainingQuantity(tx, a.item)
			if err != nil {
				return err
			}
			if nowRemaining == 0 {
				var esc model.OrderItemEscrow
				err := tx.Where("order_item_id = ?", a.item.ID).First(&esc).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue // item was never paid into escrow
				}
				if err != nil {
					return fmt.Errorf("load escrow for item %d: %w", a.item.ID, err)
				}
				if esc.Status != model.EscrowPending {
					continue
				}
				if isRefund {
					_, err = e.escrows.MarkRefunded(tx, esc.ID)
				} else {
					_, err = e.escrows.MarkCancelled(tx, esc.ID)
				}
				if err != nil {
					return err
				}
			}
		}

		// Re-fetch before deciding the aggregate status so the decision
		// never runs on a stale in-memory collection.
		fresh, err := reloadOrder(tx, o.ID)
		if err != nil {
			return err
		}
		allReversed, err := allItemsReversed(tx, fresh)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if allReversed {
			if isRefund {
				updates["status"] = model.OrderRefunded
			} else {
				updates["status"] = model.OrderCancelled
				if err := tx.Model(&model.Shipping{}).
					Where("order_id = ?", fresh.ID).
					Update("status", model.ShippingCancelled).Error; err != nil {
					return fmt.Errorf("cancel shipping of order %d: %w", fresh.ID, err)
				}
			}
			updates["payment_status"] = model.PaymentRefunded
		} else {
			updates["payment_status"] = model.PaymentPartiallyRefunded
		}
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", fresh.ID, o.Status).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update order %d status: %w", fresh.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "order %s changed state mid-reversal", o.OrderNo)
		}

		out, err = reloadOrder(tx, fresh.ID)
		if err != nil {
			return err
		}
		if isRefund {
			eventType = queue.EventOrderRefunded
		} else {
			eventType = queue.EventOrderCancelled
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, eventType, out)
	e.logger.InfoContext(ctx, "order reversed",
		slog.String("order_no", out.OrderNo),
		slog.String("status", string(out.Status)),
		slog.String("payment_status", string(out.PaymentStatus)),
		slog.Bool("refund", isRefund),
	)
	return out, nil
}

// Complete moves a DELIVERED order to COMPLETED and releases every
// pending escrow to its seller exactly once. buyerID 0 is the system
// caller (scheduler); any other value must own the order.
func (e *Engine) Complete(ctx context.Context, orderID, buyerID uint) (*model.Order, error) {
	type payout struct {
		sellerID uint
		amount   int64
	}
	var out *model.Order
	var payouts []payout
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrder(tx, orderID, buyerID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderDelivered {
			return apperr.Conflict(apperr.CodeOrderCannotBeCompleted, "order %s is %s, completion needs DELIVERED", o.OrderNo, o.Status)
		}
		if err := CheckConsistency(o); err != nil {
			return err
		}

		var escrows []model.OrderItemEscrow
		if err := tx.Where("order_id = ? AND status = ?", o.ID, model.EscrowPending).
			Order("id").Find(&escrows).Error; err != nil {
			return fmt.Errorf("load pending escrows for order %d: %w", o.ID, err)
		}
		for _, esc := range escrows {
			_, paid, err := e.escrows.Release(tx, esc.ID)
			if err != nil {
				return err
			}
			if paid > 0 {
				payouts = append(payouts, payout{sellerID: esc.SellerID, amount: paid})
			}
		}

		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", o.ID, model.OrderDelivered).
			Update("status", model.OrderCompleted)
		if res.Error != nil {
			return fmt.Errorf("complete order %d: %w", o.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict(apperr.CodeConcurrentUpdate, "order %s changed state mid-completion", o.OrderNo)
		}

		out, err = reloadOrder(tx, o.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue.EventOrderCompleted, out)
	for _, p := range payouts {
		e.publishPayout(ctx, out, p.sellerID, p.amount)
	}
	e.logger.InfoContext(ctx, "order completed", slog.String("order_no", out.OrderNo))
	return out, nil
}

func (e *Engine) publishPayout(ctx context.Context, o *model.Order, sellerID uint, amount int64) {
	if e.events == nil {
		return
	}
	err := e.events.PublishOrderEvent(ctx, queue.OrderEvent{
		Type:     queue.EventEscrowReleased,
		OrderNo:  o.OrderNo,
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		SellerID: sellerID,
		Amount:   amount,
		Currency: o.Currency,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish escrow release event",
			slog.String("order_no", o.OrderNo),
			slog.Uint64("seller_id", uint64(sellerID)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, o *model.Order) {
	if e.events == nil || o == nil {
		return
	}
	err := e.events.PublishOrderEvent(ctx, queue.OrderEvent{
		Type:          eventType,
		OrderNo:       o.OrderNo,
		OrderID:       o.ID,
		BuyerID:       o.BuyerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Amount:        o.Total,
		Currency:      o.Currency,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish order event",
			slog.String("type", eventType),
			slog.String("order_no", o.OrderNo),
			slog.String("error", err.Error()),
		)
	}
}

// loadOrder loads an order plus items and shipping. buyerID 0 skips the
// ownership check (system callers). The loaded status is later used as
// the precondition of the final guarded update, so a concurrent status
// change aborts the transaction instead of being overwritten.
func loadOrder(tx *gorm.DB, orderID, buyerID uint) (*model.Order, error) {
	var o model.Order
	q := tx.Preload("Items").Preload("Shipping")
	if buyerID != 0 {
		q = q.Where("buyer_id = ?", buyerID)
	}
	if err := q.First(&o, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %d not found", orderID)
		}
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return &o, nil
}

func reloadOrder(tx *gorm.DB, orderID uint) (*model.Order, error) {
	var o model.Order
	if err := tx.Preload("Items").Preload("Shipping").First(&o, orderID).Error; err != nil {
		return nil, fmt.Errorf("reload order %d: %w", orderID, err)
	}
	return &o, nil
}

// CheckConsistency surfaces order/shipping state machine disagreement as
// a fatal data error instead of silently repairing it. The completion
// path and the scheduler both refuse to mutate a mismatched order.
func CheckConsistency(o *model.Order) error {
	mismatch := false
	switch o.Status {
	case model.OrderDelivered, model.OrderCompleted:
		mismatch = o.Shipping.Status != model.ShippingDelivered
	case model.OrderShipped:
		mismatch = o.Shipping.Status != model.ShippingInTransit
	case model.OrderCancelled:
		mismatch = o.Shipping.Status != model.ShippingCancelled
	case model.OrderConfirmed, model.OrderProcessing:
		mismatch = o.Shipping.Status != model.ShippingPending
	}
	if mismatch {
		return apperr.New(apperr.CodeOrderShippingMismatch, 500,
			"order %s is %s but shipping is %s; manual review required", o.OrderNo, o.Status, o.Shipping.Status)
	}
	return nil
}

type target struct {
	item     model.OrderItem
	quantity int
}

// resolveTargets maps the request onto the order's items, validating
// that every named item belongs to the order.
func resolveTargets(o *model.Order, items []ItemTarget) ([]target, error) {
	byID := make(map[uint]model.OrderItem, len(o.Items))
	for _, it := range o.Items {
		byID[it.ID] = it
	}

	if len(items) == 0 {
		out := make([]target, 0, len(o.Items))
		for _, it := range o.Items {
			out = append(out, target{item: it})
		}
		return out, nil
	}

	out := make([]target, 0, len(items))
	for _, t := range items {
		it, ok := byID[t.OrderItemID]
		if !ok {
			return nil, apperr.NotFound(apperr.CodeOrderItemNotFound, "item %d does not belong to order %d", t.OrderItemID, o.ID)
		}
		if t.Quantity < 0 {
			return nil, apperr.Validation(apperr.CodeInvalidRequest, "negative quantity for item %d", t.OrderItemID)
		}
		out = append(out, target{item: it, quantity: t.Quantity})
	}
	return out, nil
}

// remainingQuantity recomputes eligibility from the ledger rows.
func remainingQuantity(tx *gorm.DB, item model.OrderItem) (int, error) {
	var cancelled, refunded int64
	if err := tx.Model(&model.OrderItemCancel{}).
		Where("order_item_id = ?", item.ID).
		Select("COALESCE(SUM(quantity), 0)").Scan(&cancelled).Error; err != nil {
		return 0, fmt.Errorf("sum cancels for item %d: %w", item.ID, err)
	}
	if err := tx.Model(&model.OrderItemRefund{}).
		Where("order_item_id = ?", item.ID).
		Select("COALESCE(SUM(quantity), 0)").Scan(&refunded).Error; err != nil {
		return 0, fmt.Errorf("sum refunds for item %d: %w", item.ID, err)
	}
	remaining := item.Quantity - int(cancelled) - int(refunded)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// allItemsReversed re-scans the freshly loaded order; a cached counter
// would be cheaper but can drift, and the re-scan cannot.
func allItemsReversed(tx *gorm.DB, o *model.Order) (bool, error) {
	for _, it := range o.Items {
		remaining, err := remainingQuantity(tx, it)
		if err != nil {
			return false, err
		}
		if remaining > 0 {
			return false, nil
		}
	}
	return true, nil
}
