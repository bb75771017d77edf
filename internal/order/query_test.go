package order

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
)

func seedOrderWithSellers(t *testing.T, db *gorm.DB, buyerID uint) *model.Order {
	t.Helper()
	o := &model.Order{
		OrderNo:       "ORD-QRY-" + uuid.NewString()[:8],
		BuyerID:       buyerID,
		Status:        model.OrderConfirmed,
		PaymentStatus: model.PaymentPaid,
		Subtotal:      15_000,
		Total:         15_000,
		Currency:      "TRY",
		Items: []model.OrderItem{
			{ListingID: 101, SellerID: 10, Category: model.CategoryGeneral, Quantity: 1, UnitPrice: 10_000, TotalPrice: 10_000, Currency: "TRY"},
			{ListingID: 102, SellerID: 20, Category: model.CategoryGeneral, Quantity: 1, UnitPrice: 5_000, TotalPrice: 5_000, Currency: "TRY"},
		},
		Shipping: model.Shipping{Status: model.ShippingPending},
	}
	require.NoError(t, db.Create(o).Error)

	for _, it := range o.Items {
		require.NoError(t, db.Create(&model.OrderItemEscrow{
			OrderItemID: it.ID,
			OrderID:     o.ID,
			SellerID:    it.SellerID,
			Amount:      it.TotalPrice,
			Currency:    "TRY",
			Status:      model.EscrowPending,
		}).Error)
	}
	return o
}

func TestGetForBuyerByIDAndOrderNo(t *testing.T) {
	db := newTestDB(t)
	q := NewQueries(db)
	o := seedOrderWithSellers(t, db, 1)

	byID, err := q.GetForBuyer(context.Background(), 1, "1")
	require.NoError(t, err)
	require.Equal(t, o.OrderNo, byID.OrderNo)
	require.Len(t, byID.Items, 2)

	byNo, err := q.GetForBuyer(context.Background(), 1, o.OrderNo)
	require.NoError(t, err)
	require.Equal(t, o.ID, byNo.ID)
}

func TestGetForBuyerScopedToOwner(t *testing.T) {
	db := newTestDB(t)
	q := NewQueries(db)
	o := seedOrderWithSellers(t, db, 1)

	_, err := q.GetForBuyer(context.Background(), 2, o.OrderNo)
	require.Equal(t, apperr.CodeOrderNotFound, apperr.CodeOf(err))
}

func TestListForBuyerPages(t *testing.T) {
	db := newTestDB(t)
	q := NewQueries(db)
	for i := 0; i < 3; i++ {
		seedOrderWithSellers(t, db, 1)
	}
	seedOrderWithSellers(t, db, 2)

	orders, err := q.ListForBuyer(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	orders, err = q.ListForBuyer(context.Background(), 1, 2, 2)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestListForSellerShowsOnlyOwnSlice(t *testing.T) {
	db := newTestDB(t)
	q := NewQueries(db)
	o := seedOrderWithSellers(t, db, 1)

	views, err := q.ListForSeller(context.Background(), 10, 1, 20)
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	require.Equal(t, o.ID, v.OrderID)
	// Only seller 10's item appears, and only their escrow is summed.
	require.Len(t, v.Items, 1)
	require.Equal(t, uint(10), v.Items[0].SellerID)
	require.Equal(t, int64(10_000), v.PendingEscrow)

	// A seller with no items in any order sees nothing.
	views, err = q.ListForSeller(context.Background(), 99, 1, 20)
	require.NoError(t, err)
	require.Empty(t, views)
}

func TestListForSellerExcludesSettledEscrow(t *testing.T) {
	db := newTestDB(t)
	q := NewQueries(db)
	o := seedOrderWithSellers(t, db, 1)
	require.NoError(t, db.Model(&model.OrderItemEscrow{}).
		Where("order_id = ? AND seller_id = ?", o.ID, 10).
		Update("status", model.EscrowReleased).Error)

	views, err := q.ListForSeller(context.Background(), 10, 1, 20)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Zero(t, views[0].PendingEscrow)
}
