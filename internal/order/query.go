package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
)

// Queries serves read-side order views. Seller views are derived
// projections over the shared aggregate; nothing seller-specific is ever
// persisted.
type Queries struct {
	db *gorm.DB
}

func NewQueries(db *gorm.DB) *Queries {
	return &Queries{db: db}
}

// GetForBuyer loads one order with items and shipping, scoped to the
// owning buyer. ref is either the numeric id or the order number.
func (q *Queries) GetForBuyer(ctx context.Context, buyerID uint, ref string) (*model.Order, error) {
	tx := q.db.WithContext(ctx).Preload("Items").Preload("Shipping").Where("buyer_id = ?", buyerID)
	var o model.Order
	var err error
	if id, perr := strconv.ParseUint(ref, 10, 32); perr == nil {
		err = tx.First(&o, uint(id)).Error
	} else {
		err = tx.Where("order_no = ?", ref).First(&o).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", ref)
		}
		return nil, fmt.Errorf("load order %s: %w", ref, err)
	}
	return &o, nil
}

// ListForBuyer pages through a buyer's orders, newest first.
func (q *Queries) ListForBuyer(ctx context.Context, buyerID uint, page, pageSize int) ([]model.Order, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if page < 1 {
		page = 1
	}
	var out []model.Order
	err := q.db.WithContext(ctx).
		Preload("Items").Preload("Shipping").
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list orders for buyer %d: %w", buyerID, err)
	}
	return out, nil
}

// SellerOrderView is the seller-scoped projection of one order: only
// that seller's line items plus their pending escrow total.
type SellerOrderView struct {
	OrderID           uint              `json:"order_id"`
	OrderNo           string            `json:"order_no"`
	Status            model.OrderStatus `json:"status"`
	Items             []model.OrderItem `json:"items"`
	PendingEscrow     int64             `json:"pending_escrow"`
	Currency          string            `json:"currency"`
	CreatedAtUnixMill int64             `json:"created_at_ms"`
}

// ListForSeller derives seller projections for every order containing at
// least one of the seller's items.
func (q *Queries) ListForSeller(ctx context.Context, sellerID uint, page, pageSize int) ([]SellerOrderView, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if page < 1 {
		page = 1
	}

	var orderIDs []uint
	err := q.db.WithContext(ctx).Model(&model.OrderItem{}).
		Distinct("order_id").
		Where("seller_id = ?", sellerID).
		Order("order_id DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Pluck("order_id", &orderIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list seller %d order ids: %w", sellerID, err)
	}
	if len(orderIDs) == 0 {
		return []SellerOrderView{}, nil
	}

	var orders []model.Order
	if err := q.db.WithContext(ctx).Where("id IN ?", orderIDs).Order("id DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("load seller %d orders: %w", sellerID, err)
	}

	views := make([]SellerOrderView, 0, len(orders))
	for _, o := range orders {
		var items []model.OrderItem
		if err := q.db.WithContext(ctx).
			Where("order_id = ? AND seller_id = ?", o.ID, sellerID).
			Find(&items).Error; err != nil {
			return nil, fmt.Errorf("load seller items for order %d: %w", o.ID, err)
		}

		var pending int64
		err := q.db.WithContext(ctx).Model(&model.OrderItemEscrow{}).
			Where("order_id = ? AND seller_id = ? AND status = ?", o.ID, sellerID, model.EscrowPending).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&pending).Error
		if err != nil {
			return nil, fmt.Errorf("sum pending escrow for order %d: %w", o.ID, err)
		}

		views = append(views, SellerOrderView{
			OrderID:           o.ID,
			OrderNo:           o.OrderNo,
			Status:            o.Status,
			Items:             items,
			PendingEscrow:     pending,
			Currency:          o.Currency,
			CreatedAtUnixMill: o.CreatedAt.UnixMilli(),
		})
	}
	return views, nil
}
