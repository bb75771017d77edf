// Package checkout is the saga coordinator: it sequences stock
// reservation, order creation, per-seller payment and escrow opening,
// and compensates every completed step when a later one fails.
package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/cart"
	"bazaar/internal/escrow"
	"bazaar/internal/model"
	"bazaar/internal/order"
	"bazaar/internal/payment"
	"bazaar/internal/pricing"
	"bazaar/internal/queue"
	"bazaar/internal/stock"
)

// Orchestrator wires the checkout pipeline.
type Orchestrator struct {
	db       *gorm.DB
	carts    cart.Store
	pricer   pricing.Pricer
	stocks   *stock.Service
	builder  *order.Builder
	payments *payment.Processor
	escrows  *escrow.Ledger
	events   queue.Publisher
	logger   *slog.Logger
}

func NewOrchestrator(
	db *gorm.DB,
	carts cart.Store,
	pricer pricing.Pricer,
	stocks *stock.Service,
	builder *order.Builder,
	payments *payment.Processor,
	escrows *escrow.Ledger,
	events queue.Publisher,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:       db,
		carts:    carts,
		pricer:   pricer,
		stocks:   stocks,
		builder:  builder,
		payments: payments,
		escrows:  escrows,
		events:   events,
		logger:   logger,
	}
}

// Checkout converts the buyer's cart into a settled order. Steps run
// strictly in sequence: reserve stock, create the order, charge each
// seller, open escrows and confirm. Any failure compensates everything
// already done and surfaces the original error; the cart is cleared only
// after full success.
func (c *Orchestrator) Checkout(ctx context.Context, buyerID uint, req order.CheckoutRequest) (*model.Order, error) {
	lines, err := c.carts.Get(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("load cart for buyer %d: %w", buyerID, err)
	}
	if len(lines) == 0 {
		return nil, apperr.Validation(apperr.CodeCartEmpty, "cart is empty")
	}

	// Pricing is consumed, never re-derived: the snapshot is frozen into
	// the order and not revisited after this point.
	snap, err := c.pricer.Price(ctx, buyerID, lines, req.CouponCode, req.OfferID)
	if err != nil {
		return nil, err
	}

	var (
		reserved  map[uint]int
		o         *model.Order
		payResult payment.Result
	)

	steps := []step{
		{
			name: "reserve_stock",
			run: func(ctx context.Context) error {
				reserved, err = c.stocks.Reserve(ctx, stockLines(lines))
				return err
			},
			compensate: func(ctx context.Context) error {
				return c.stocks.Release(ctx, reserved)
			},
		},
		{
			name: "create_order",
			run: func(ctx context.Context) error {
				o, err = c.builder.CreateOrder(ctx, buyerID, lines, req, snap)
				return err
			},
			compensate: func(ctx context.Context) error {
				return c.markFailed(ctx, o)
			},
		},
		{
			name: "process_payments",
			run: func(ctx context.Context) error {
				payResult, err = c.payments.ProcessPayments(ctx, buyerID, req, o)
				if err == nil && !payResult.AllSuccessful {
					err = apperr.Conflict(apperr.CodePaymentFailed,
						"payment failed for sellers %v of order %s", payResult.FailedSellers, o.OrderNo)
				}
				if err != nil {
					// Charges that landed before the failure must not outlive
					// it; the saga only compensates fully completed steps, so
					// this step undoes its own partial work here.
					if rerr := c.reversePayments(ctx, payResult); rerr != nil {
						c.logger.ErrorContext(ctx, "failed to reverse partial payments",
							slog.Uint64("buyer_id", uint64(buyerID)),
							slog.String("error", rerr.Error()),
						)
					}
					return err
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				return c.reversePayments(ctx, payResult)
			},
		},
		{
			name: "open_escrow_and_confirm",
			run: func(ctx context.Context) error {
				return c.confirm(ctx, o)
			},
		},
	}

	if err := runSaga(ctx, c.logger, steps); err != nil {
		return nil, err
	}

	// Post-settlement side effects are best-effort: the order is already
	// consistent, so a cart or event hiccup must not fail the checkout.
	if err := c.carts.Clear(ctx, buyerID); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear cart after checkout",
			slog.Uint64("buyer_id", uint64(buyerID)),
			slog.String("error", err.Error()),
		)
	} else {
		c.publish(ctx, queue.EventCartCleared, o)
	}
	c.publish(ctx, queue.EventOrderConfirmed, o)

	c.logger.InfoContext(ctx, "checkout settled",
		slog.String("order_no", o.OrderNo),
		slog.Uint64("buyer_id", uint64(buyerID)),
		slog.Int64("total", o.Total),
		slog.Int("sellers", len(payResult.Payments)),
	)
	return o, nil
}

// confirm opens one escrow per paid item and flips the order to
// CONFIRMED/PAID in a single transaction.
func (c *Orchestrator) confirm(ctx context.Context, o *model.Order) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range o.Items {
			if _, err := c.escrows.Create(tx, item); err != nil {
				return err
			}
		}
		return tx.Model(&model.Order{}).Where("id = ?", o.ID).Updates(map[string]any{
			"status":         model.OrderConfirmed,
			"payment_status": model.PaymentPaid,
		}).Error
	})
	if err != nil {
		return err
	}
	o.Status = model.OrderConfirmed
	o.PaymentStatus = model.PaymentPaid
	return nil
}

// markFailed is the order step's compensation: the persisted aggregate
// stays for audit, flagged CANCELLED with a failed payment.
func (c *Orchestrator) markFailed(ctx context.Context, o *model.Order) error {
	if o == nil {
		return nil
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Order{}).Where("id = ?", o.ID).Updates(map[string]any{
			"status":         model.OrderCancelled,
			"payment_status": model.PaymentFailed,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Shipping{}).
			Where("order_id = ?", o.ID).
			Update("status", model.ShippingCancelled).Error
	})
}

// reversePayments undoes the seller charges that did succeed before the
// checkout as a whole failed.
func (c *Orchestrator) reversePayments(ctx context.Context, res payment.Result) error {
	var firstErr error
	for _, p := range res.Payments {
		if !p.Success {
			continue
		}
		if err := c.payments.ReversePayment(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Orchestrator) publish(ctx context.Context, eventType string, o *model.Order) {
	if c.events == nil {
		return
	}
	err := c.events.PublishOrderEvent(ctx, queue.OrderEvent{
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
		c.logger.ErrorContext(ctx, "failed to publish order event",
			slog.String("type", eventType),
			slog.String("order_no", o.OrderNo),
			slog.String("error", err.Error()),
		)
	}
}

func stockLines(lines []cart.Line) []stock.Line {
	out := make([]stock.Line, 0, len(lines))
	for _, ln := range lines {
		out = append(out, stock.Line{ListingID: ln.ListingID, Quantity: ln.Quantity})
	}
	return out
}
