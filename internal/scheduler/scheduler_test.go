package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bazaar/internal/escrow"
	"bazaar/internal/model"
	"bazaar/internal/payment"
	"bazaar/internal/queue"
	"bazaar/internal/settlement"
)

type pubStub struct {
	events []queue.OrderEvent
}

func (p *pubStub) PublishOrderEvent(_ context.Context, e queue.OrderEvent) error {
	p.events = append(p.events, e)
	return nil
}

func newTestScheduler(t *testing.T, th Thresholds) (*Scheduler, *gorm.DB) {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payments := payment.NewProcessor(db, nil, nil, logger)
	escrows := escrow.NewLedger(db, payments, logger)
	engine := settlement.NewEngine(db, escrows, payments, &pubStub{}, 48*time.Hour, logger)
	return New(db, engine, th, time.Minute, logger), db
}

func seedConfirmed(t *testing.T, db *gorm.DB) *model.Order {
	t.Helper()
	o := &model.Order{
		OrderNo:       "ORD-SCH-" + uuid.NewString()[:8],
		BuyerID:       1,
		Status:        model.OrderConfirmed,
		PaymentStatus: model.PaymentPaid,
		Subtotal:      5_000,
		Total:         5_000,
		Currency:      "TRY",
		Items: []model.OrderItem{
			{ListingID: 100, SellerID: 10, Category: model.CategoryGeneral, Quantity: 1, UnitPrice: 5_000, TotalPrice: 5_000, Currency: "TRY"},
		},
		Shipping: model.Shipping{Status: model.ShippingPending},
	}
	require.NoError(t, db.Create(o).Error)
	require.NoError(t, db.Create(&model.OrderItemEscrow{
		OrderItemID: o.Items[0].ID,
		OrderID:     o.ID,
		SellerID:    10,
		Amount:      5_000,
		Currency:    "TRY",
		Status:      model.EscrowPending,
	}).Error)
	return o
}

func reloadOrder(t *testing.T, db *gorm.DB, id uint) *model.Order {
	t.Helper()
	var o model.Order
	require.NoError(t, db.Preload("Shipping").First(&o, id).Error)
	return &o
}

// With zero thresholds every sweep advances one step, and the fourth
// sweep hands off to the settlement engine, which releases the escrow
// exactly once.
func TestSweepWalksOrderToCompletion(t *testing.T) {
	s, db := newTestScheduler(t, Thresholds{})
	o := seedConfirmed(t, db)
	ctx := context.Background()

	// Well past any record timestamp so elapsed checks always pass.
	now := time.Now().UTC().Add(time.Hour)

	require.NoError(t, s.Sweep(ctx, now))
	cur := reloadOrder(t, db, o.ID)
	require.Equal(t, model.OrderProcessing, cur.Status)
	require.Equal(t, model.ShippingPending, cur.Shipping.Status)

	require.NoError(t, s.Sweep(ctx, now))
	cur = reloadOrder(t, db, o.ID)
	require.Equal(t, model.OrderShipped, cur.Status)
	require.Equal(t, model.ShippingInTransit, cur.Shipping.Status)
	require.NotNil(t, cur.Shipping.InTransitAt)

	require.NoError(t, s.Sweep(ctx, now))
	cur = reloadOrder(t, db, o.ID)
	require.Equal(t, model.OrderDelivered, cur.Status)
	require.Equal(t, model.ShippingDelivered, cur.Shipping.Status)
	require.NotNil(t, cur.Shipping.DeliveredAt)

	require.NoError(t, s.Sweep(ctx, now))
	cur = reloadOrder(t, db, o.ID)
	require.Equal(t, model.OrderCompleted, cur.Status)

	var w model.Wallet
	require.NoError(t, db.Where("user_id = ?", 10).First(&w).Error)
	require.Equal(t, int64(5_000), w.Balance)

	var esc model.OrderItemEscrow
	require.NoError(t, db.Where("order_id = ?", o.ID).First(&esc).Error)
	require.Equal(t, model.EscrowReleased, esc.Status)

	// A completed order is off the sweep's radar; nothing pays twice.
	require.NoError(t, s.Sweep(ctx, now))
	require.Equal(t, model.OrderCompleted, reloadOrder(t, db, o.ID).Status)
	require.NoError(t, db.Where("user_id = ?", 10).First(&w).Error)
	require.Equal(t, int64(5_000), w.Balance)
}

func TestSweepLeavesOrdersBeforeThreshold(t *testing.T) {
	s, db := newTestScheduler(t, Thresholds{
		ProcessingAfter: time.Hour,
		ShippedAfter:    24 * time.Hour,
		DeliveredAfter:  48 * time.Hour,
		CompleteWindow:  48 * time.Hour,
	})
	o := seedConfirmed(t, db)

	require.NoError(t, s.Sweep(context.Background(), time.Now().UTC()))
	require.Equal(t, model.OrderConfirmed, reloadOrder(t, db, o.ID).Status)
}

// An order whose shipping record disagrees with its status is a data
// error needing review; the sweep must leave both sides untouched
// rather than "repair" the shipping state.
func TestSweepSkipsMismatchedShipping(t *testing.T) {
	s, db := newTestScheduler(t, Thresholds{})
	o := seedConfirmed(t, db)
	require.NoError(t, db.Model(&model.Shipping{}).Where("order_id = ?", o.ID).
		Update("status", model.ShippingCancelled).Error)

	require.NoError(t, s.Sweep(context.Background(), time.Now().UTC().Add(time.Hour)))

	cur := reloadOrder(t, db, o.ID)
	require.Equal(t, model.OrderConfirmed, cur.Status)
	require.Equal(t, model.ShippingCancelled, cur.Shipping.Status)
}

func TestSweepSkipsTerminalOrders(t *testing.T) {
	s, db := newTestScheduler(t, Thresholds{})
	o := seedConfirmed(t, db)
	require.NoError(t, db.Model(&model.Order{}).Where("id = ?", o.ID).
		Update("status", model.OrderCancelled).Error)

	require.NoError(t, s.Sweep(context.Background(), time.Now().UTC().Add(time.Hour)))
	require.Equal(t, model.OrderCancelled, reloadOrder(t, db, o.ID).Status)
}
