package payment

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
	"bazaar/internal/model"
	"bazaar/internal/order"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

func newProcessor(t *testing.T) (*Processor, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	// Verification stays off in tests; the second factor needs Redis.
	return NewProcessor(db, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func seedWallet(t *testing.T, db *gorm.DB, userID uint, balance int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.Wallet{UserID: userID, Balance: balance, Currency: "TRY"}).Error)
}

func walletBalance(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var w model.Wallet
	require.NoError(t, db.Where("user_id = ?", userID).First(&w).Error)
	return w.Balance
}

// twoSellerOrder persists an order with one item per seller: seller 10
// for 10000 and seller 20 for 5000, with a 1500 coupon off the total.
func twoSellerOrder(t *testing.T, db *gorm.DB, buyerID uint) *model.Order {
	t.Helper()
	o := &model.Order{
		OrderNo:        "ORD-TEST-" + uuid.NewString()[:8],
		BuyerID:        buyerID,
		Status:         model.OrderPending,
		PaymentStatus:  model.PaymentPending,
		Subtotal:       15_000,
		CouponDiscount: 1_500,
		Total:          13_500,
		Currency:       "TRY",
		Items: []model.OrderItem{
			{ListingID: 101, SellerID: 10, Category: model.CategoryGeneral, Quantity: 2, UnitPrice: 5_000, TotalPrice: 10_000, Currency: "TRY"},
			{ListingID: 102, SellerID: 20, Category: model.CategoryGeneral, Quantity: 1, UnitPrice: 5_000, TotalPrice: 5_000, Currency: "TRY"},
		},
		Shipping: model.Shipping{Status: model.ShippingPending},
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

func walletReq(key string) order.CheckoutRequest {
	return order.CheckoutRequest{PaymentType: model.PaymentTypeWallet, IdempotencyKey: key}
}

func TestProcessPaymentsSplitsPerSeller(t *testing.T) {
	p, db := newProcessor(t)
	seedWallet(t, db, 1, 20_000)
	o := twoSellerOrder(t, db, 1)

	res, err := p.ProcessPayments(context.Background(), 1, walletReq("chk-1"), o)
	require.NoError(t, err)
	require.True(t, res.AllSuccessful)
	require.Len(t, res.Payments, 2)

	// Discount allocation: 1500 * 10000/15000 = 1000 for seller 10,
	// remainder 500 for seller 20; charges sum to the order total.
	var sum int64
	for _, pay := range res.Payments {
		sum += pay.Amount
	}
	require.Equal(t, o.Total, sum)
	require.Equal(t, int64(9_000), res.Payments[0].Amount)
	require.Equal(t, int64(4_500), res.Payments[1].Amount)

	// The buyer's wallet moved exactly once per seller, total once.
	require.Equal(t, int64(20_000-13_500), walletBalance(t, db, 1))
}

func TestProcessPaymentsIdempotentRetry(t *testing.T) {
	p, db := newProcessor(t)
	seedWallet(t, db, 1, 20_000)
	o := twoSellerOrder(t, db, 1)

	first, err := p.ProcessPayments(context.Background(), 1, walletReq("chk-retry"), o)
	require.NoError(t, err)
	require.True(t, first.AllSuccessful)

	second, err := p.ProcessPayments(context.Background(), 1, walletReq("chk-retry"), o)
	require.NoError(t, err)
	require.True(t, second.AllSuccessful)

	// Same rows came back; no double charge happened.
	require.Equal(t, first.Payments[0].ID, second.Payments[0].ID)
	require.Equal(t, first.Payments[1].ID, second.Payments[1].ID)
	require.Equal(t, int64(20_000-13_500), walletBalance(t, db, 1))

	var count int64
	require.NoError(t, db.Model(&model.Payment{}).Where("from_user_id = ?", 1).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestProcessPaymentsKeyConflict(t *testing.T) {
	p, db := newProcessor(t)
	seedWallet(t, db, 1, 50_000)
	o := twoSellerOrder(t, db, 1)

	_, err := p.ProcessPayments(context.Background(), 1, walletReq("chk-dup"), o)
	require.NoError(t, err)

	// Same caller key reused with a different amount must be rejected,
	// not silently matched.
	other := twoSellerOrder(t, db, 1)
	other.Items[0].TotalPrice = 8_000 // changes seller 10's share

	_, err = p.ProcessPayments(context.Background(), 1, walletReq("chk-dup"), other)
	require.Equal(t, apperr.CodeIdempotencyKeyConflict, apperr.CodeOf(err))
}

func TestProcessPaymentsInsufficientFundsRecordsFailure(t *testing.T) {
	p, db := newProcessor(t)
	seedWallet(t, db, 1, 10_000) // covers seller 10 (9000) but not seller 20 (4500)
	o := twoSellerOrder(t, db, 1)

	res, err := p.ProcessPayments(context.Background(), 1, walletReq("chk-poor"), o)
	require.NoError(t, err)
	require.False(t, res.AllSuccessful)
	require.Equal(t, []uint{20}, res.FailedSellers)

	// The failed attempt is persisted for audit with its reason.
	var failed model.Payment
	require.NoError(t, db.Where("from_user_id = ? AND success = ?", 1, false).First(&failed).Error)
	require.Equal(t, apperr.CodeInsufficientFunds.String(), failed.FailReason)

	// Only the successful charge moved money.
	require.Equal(t, int64(10_000-9_000), walletBalance(t, db, 1))
}

func TestFailedChargeDoesNotBlockLaterCheckout(t *testing.T) {
	p, db := newProcessor(t)
	ctx := context.Background()
	seedWallet(t, db, 1, 10_000) // covers seller 10 (9000) but not seller 20 (4500)

	first := twoSellerOrder(t, db, 1)
	res, err := p.ProcessPayments(ctx, 1, walletReq(""), first)
	require.NoError(t, err)
	require.False(t, res.AllSuccessful)

	// The saga reverses the partial charge; the buyer tops up and checks
	// out again. The new order must get a fresh charge, not the recorded
	// failure of the first attempt.
	require.NoError(t, p.ReversePayment(ctx, res.Payments[0]))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return CreditWallet(tx, 1, 3_500)
	}))

	second := twoSellerOrder(t, db, 1)
	res2, err := p.ProcessPayments(ctx, 1, walletReq(""), second)
	require.NoError(t, err)
	require.True(t, res2.AllSuccessful)
	require.Equal(t, int64(0), walletBalance(t, db, 1))

	// Re-running the first order still replays its recorded outcome.
	again, err := p.ProcessPayments(ctx, 1, walletReq(""), first)
	require.NoError(t, err)
	require.False(t, again.AllSuccessful)
	require.Equal(t, int64(0), walletBalance(t, db, 1))
}

func TestProcessPaymentsUnsupportedType(t *testing.T) {
	p, db := newProcessor(t)
	o := twoSellerOrder(t, db, 1)

	req := order.CheckoutRequest{PaymentType: "CRYPTO"}
	_, err := p.ProcessPayments(context.Background(), 1, req, o)
	require.Equal(t, apperr.CodeUnsupportedPaymentType, apperr.CodeOf(err))
}

func TestReversePaymentIsIdempotent(t *testing.T) {
	p, db := newProcessor(t)
	seedWallet(t, db, 1, 20_000)
	o := twoSellerOrder(t, db, 1)

	res, err := p.ProcessPayments(context.Background(), 1, walletReq("chk-rev"), o)
	require.NoError(t, err)
	require.Equal(t, int64(6_500), walletBalance(t, db, 1))

	require.NoError(t, p.ReversePayment(context.Background(), res.Payments[0]))
	require.Equal(t, int64(6_500+9_000), walletBalance(t, db, 1))

	// A second reversal of the same charge is a no-op, not a second credit.
	require.NoError(t, p.ReversePayment(context.Background(), res.Payments[0]))
	require.Equal(t, int64(6_500+9_000), walletBalance(t, db, 1))
}

func TestDebitWalletNeverGoesNegative(t *testing.T) {
	_, db := newProcessor(t)
	seedWallet(t, db, 7, 100)

	err := db.Transaction(func(tx *gorm.DB) error {
		return DebitWallet(tx, 7, 200)
	})
	require.Equal(t, apperr.CodeInsufficientFunds, apperr.CodeOf(err))
	require.Equal(t, int64(100), walletBalance(t, db, 7))
}

func TestSplitBySellerRoundsToTotal(t *testing.T) {
	o := &model.Order{
		Subtotal:       1_000,
		CouponDiscount: 100,
		Total:          900,
		Items: []model.OrderItem{
			{ListingID: 1, SellerID: 10, TotalPrice: 333},
			{ListingID: 2, SellerID: 20, TotalPrice: 667},
		},
	}
	charges := splitBySeller(o)
	require.Len(t, charges, 2)
	// 100 * 333/1000 truncates to 33; the remainder lands on the last
	// seller so the sum still equals the order total.
	require.Equal(t, int64(300), charges[0].Amount)
	require.Equal(t, int64(600), charges[1].Amount)
	require.Equal(t, o.Total, charges[0].Amount+charges[1].Amount)
}
