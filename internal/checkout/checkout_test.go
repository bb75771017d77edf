package checkout

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

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

// memCart is an in-memory cart.Store for checkout tests.
type memCart struct {
	lines   map[uint][]cart.Line
	cleared int
}

func newMemCart() *memCart { return &memCart{lines: map[uint][]cart.Line{}} }

func (m *memCart) Get(_ context.Context, userID uint) ([]cart.Line, error) {
	return m.lines[userID], nil
}

func (m *memCart) Add(_ context.Context, userID uint, line cart.Line) error {
	m.lines[userID] = append(m.lines[userID], line)
	return nil
}

func (m *memCart) Remove(_ context.Context, userID, listingID uint) error {
	kept := m.lines[userID][:0]
	for _, ln := range m.lines[userID] {
		if ln.ListingID != listingID {
			kept = append(kept, ln)
		}
	}
	m.lines[userID] = kept
	return nil
}

func (m *memCart) Clear(_ context.Context, userID uint) error {
	delete(m.lines, userID)
	m.cleared++
	return nil
}

type pubStub struct {
	events []queue.OrderEvent
}

func (p *pubStub) PublishOrderEvent(_ context.Context, e queue.OrderEvent) error {
	p.events = append(p.events, e)
	return nil
}

func (p *pubStub) types() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db    *gorm.DB
	carts *memCart
	pub   *pubStub
	orc   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	carts := newMemCart()
	pub := &pubStub{}
	payments := payment.NewProcessor(db, nil, nil, logger)
	escrows := escrow.NewLedger(db, payments, logger)
	pricer := pricing.NewListPricer(db, map[string]int64{"WELCOME": 1_000})

	orc := NewOrchestrator(
		db,
		carts,
		pricer,
		stock.NewService(db, logger),
		order.NewBuilder(db, logger),
		payments,
		escrows,
		pub,
		logger,
	)
	return &fixture{db: db, carts: carts, pub: pub, orc: orc}
}

func (f *fixture) seedListing(t *testing.T, sellerID uint, price int64, qty int) model.Listing {
	t.Helper()
	l := model.Listing{
		SellerID: sellerID,
		Title:    "listing",
		Category: model.CategoryGeneral,
		Price:    price,
		Currency: "TRY",
		Quantity: qty,
		Active:   true,
	}
	require.NoError(t, f.db.Create(&l).Error)
	return l
}

func (f *fixture) seedAddress(t *testing.T, userID uint) model.Address {
	t.Helper()
	a := model.Address{UserID: userID, FullName: "Ayşe Yılmaz", Line: "Bağdat Cd. 1", City: "İstanbul", Country: "Türkiye"}
	require.NoError(t, f.db.Create(&a).Error)
	return a
}

func (f *fixture) seedWallet(t *testing.T, userID uint, balance int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.Wallet{UserID: userID, Balance: balance, Currency: "TRY"}).Error)
}

func (f *fixture) walletBalance(t *testing.T, userID uint) int64 {
	t.Helper()
	var w model.Wallet
	require.NoError(t, f.db.Where("user_id = ?", userID).First(&w).Error)
	return w.Balance
}

func (f *fixture) listingQty(t *testing.T, id uint) int {
	t.Helper()
	var l model.Listing
	require.NoError(t, f.db.First(&l, id).Error)
	return l.Quantity
}

func walletReq(addrID uint, key string) order.CheckoutRequest {
	return order.CheckoutRequest{
		ShippingAddressID: addrID,
		PaymentType:       model.PaymentTypeWallet,
		IdempotencyKey:    key,
	}
}

func TestCheckoutTwoSellersWithCoupon(t *testing.T) {
	f := newFixture(t)
	a := f.seedListing(t, 10, 10_000, 5)
	b := f.seedListing(t, 20, 5_000, 5)
	addr := f.seedAddress(t, 1)
	f.seedWallet(t, 1, 30_000)

	ctx := context.Background()
	require.NoError(t, f.carts.Add(ctx, 1, cart.Line{ListingID: a.ID, Quantity: 2}))
	require.NoError(t, f.carts.Add(ctx, 1, cart.Line{ListingID: b.ID, Quantity: 1}))

	req := walletReq(addr.ID, "chk-ok")
	req.CouponCode = "WELCOME"

	o, err := f.orc.Checkout(ctx, 1, req)
	require.NoError(t, err)

	require.Equal(t, model.OrderConfirmed, o.Status)
	require.Equal(t, model.PaymentPaid, o.PaymentStatus)
	require.Equal(t, int64(25_000), o.Subtotal)
	require.Equal(t, int64(1_000), o.CouponDiscount)
	require.Equal(t, int64(24_000), o.Total)

	// Stock moved, money moved once, one escrow per item opened.
	require.Equal(t, 3, f.listingQty(t, a.ID))
	require.Equal(t, 4, f.listingQty(t, b.ID))
	require.Equal(t, int64(6_000), f.walletBalance(t, 1))

	var escrows []model.OrderItemEscrow
	require.NoError(t, f.db.Where("order_id = ?", o.ID).Order("id").Find(&escrows).Error)
	require.Len(t, escrows, 2)
	for _, e := range escrows {
		require.Equal(t, model.EscrowPending, e.Status)
	}
	require.Equal(t, int64(20_000), escrows[0].Amount)
	require.Equal(t, int64(5_000), escrows[1].Amount)

	// Cart cleared after success, both events published.
	require.Empty(t, f.carts.lines[1])
	require.Equal(t, []string{queue.EventCartCleared, queue.EventOrderConfirmed}, f.pub.types())
}

func TestCheckoutPaymentFailureCompensatesEverything(t *testing.T) {
	f := newFixture(t)
	a := f.seedListing(t, 10, 10_000, 5)
	b := f.seedListing(t, 20, 5_000, 5)
	addr := f.seedAddress(t, 1)
	// Covers seller 10's 10000 but not seller 20's 5000 on top.
	f.seedWallet(t, 1, 12_000)

	ctx := context.Background()
	require.NoError(t, f.carts.Add(ctx, 1, cart.Line{ListingID: a.ID, Quantity: 1}))
	require.NoError(t, f.carts.Add(ctx, 1, cart.Line{ListingID: b.ID, Quantity: 1}))

	_, err := f.orc.Checkout(ctx, 1, walletReq(addr.ID, "chk-fail"))
	require.Equal(t, apperr.CodePaymentFailed, apperr.CodeOf(err))

	// Stock restored, the successful charge reversed in full.
	require.Equal(t, 5, f.listingQty(t, a.ID))
	require.Equal(t, 5, f.listingQty(t, b.ID))
	require.Equal(t, int64(12_000), f.walletBalance(t, 1))

	// The order aggregate survives for audit, flagged failed.
	var o model.Order
	require.NoError(t, f.db.Preload("Shipping").Where("buyer_id = ?", 1).First(&o).Error)
	require.Equal(t, model.OrderCancelled, o.Status)
	require.Equal(t, model.PaymentFailed, o.PaymentStatus)
	require.Equal(t, model.ShippingCancelled, o.Shipping.Status)

	// No escrow was opened and the cart was kept for a retry.
	var escrowCount int64
	require.NoError(t, f.db.Model(&model.OrderItemEscrow{}).Count(&escrowCount).Error)
	require.Zero(t, escrowCount)
	require.Len(t, f.carts.lines[1], 2)
	require.Empty(t, f.pub.events)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	addr := f.seedAddress(t, 1)

	_, err := f.orc.Checkout(context.Background(), 1, walletReq(addr.ID, "chk-empty"))
	require.Equal(t, apperr.CodeCartEmpty, apperr.CodeOf(err))
}

func TestCheckoutInsufficientStock(t *testing.T) {
	f := newFixture(t)
	a := f.seedListing(t, 10, 10_000, 1)
	addr := f.seedAddress(t, 1)
	f.seedWallet(t, 1, 100_000)

	ctx := context.Background()
	require.NoError(t, f.carts.Add(ctx, 1, cart.Line{ListingID: a.ID, Quantity: 2}))

	_, err := f.orc.Checkout(ctx, 1, walletReq(addr.ID, "chk-stock"))
	require.Equal(t, apperr.CodeStockInsufficient, apperr.CodeOf(err))

	// Nothing was created or charged.
	var orders int64
	require.NoError(t, f.db.Model(&model.Order{}).Count(&orders).Error)
	require.Zero(t, orders)
	require.Equal(t, 1, f.listingQty(t, a.ID))
	require.Equal(t, int64(100_000), f.walletBalance(t, 1))
	require.Len(t, f.carts.lines[1], 1)
}

func TestCheckoutForeignAddress(t *testing.T) {
	f := newFixture(t)
	a := f.seedListing(t, 10, 10_000, 5)
	addr := f.seedAddress(t, 2) // belongs to someone else
	f.seedWallet(t, 1, 100_000)

	ctx := context.Background()
	require.NoError(t, f.carts.Add(ctx, 1, cart.Line{ListingID: a.ID, Quantity: 1}))

	_, err := f.orc.Checkout(ctx, 1, walletReq(addr.ID, "chk-addr"))
	require.Equal(t, apperr.CodeAddressNotBelongToUser, apperr.CodeOf(err))

	// Reservation was compensated.
	require.Equal(t, 5, f.listingQty(t, a.ID))
}
