// Package router registers the HTTP surface: listings, cart, checkout,
// order lifecycle commands and buyer/seller order views.
package router

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/cart"
	"bazaar/internal/checkout"
	"bazaar/internal/config"
	"bazaar/internal/middleware"
	"bazaar/internal/model"
	"bazaar/internal/order"
	"bazaar/internal/payment"
	"bazaar/internal/settlement"
)

// Deps is everything the routes need.
type Deps struct {
	DB         *gorm.DB
	RDB        *rd.Client
	Carts      cart.Store
	Checkout   *checkout.Orchestrator
	Settlement *settlement.Engine
	Queries    *order.Queries
	Cfg        config.AppConfig
}

// Setup registers all HTTP routes.
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// Listings
	r.GET("/api/listings", listListings(d.DB))
	r.POST("/api/listings", createListing(d.DB, d.Cfg.AdminToken))

	// Address book
	r.GET("/api/addresses", listAddresses(d.DB))
	r.POST("/api/addresses", createAddress(d.DB))

	// Cart
	r.GET("/api/cart", getCart(d.Carts))
	r.POST("/api/cart/items", addCartItem(d.Carts))
	r.DELETE("/api/cart/items/:listing_id", removeCartItem(d.Carts))

	// Checkout + order lifecycle
	r.POST("/api/checkout",
		middleware.CheckoutRateLimit(d.RDB, d.Cfg.CheckoutRateLimit, d.Cfg.CheckoutRateWindow),
		doCheckout(d.Checkout))
	r.POST("/api/orders/:id/cancel", cancelOrder(d.Settlement))
	r.POST("/api/orders/:id/refund", refundOrder(d.Settlement))
	r.POST("/api/orders/:id/complete", completeOrder(d.Settlement))

	// Order views
	r.GET("/api/orders", listOrders(d.Queries))
	r.GET("/api/orders/:id", getOrder(d.Queries))
	r.GET("/api/seller/orders", listSellerOrders(d.Queries))

	// Wallet top-up for funding wallet payments (dev/admin surface).
	r.POST("/api/wallets/topup", topUpWallet(d.DB, d.Cfg.AdminToken))
}

// userID reads the authenticated buyer/seller id. Authentication itself
// is terminated upstream; the gateway injects the header.
func userID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "missing or invalid X-User-ID"})
		return 0, false
	}
	return uint(id), true
}

// fail renders an error in the envelope, using the stable code when the
// error carries one. Plain errors are wrapped as INTERNAL_ERROR so the
// raw message never reaches the client.
func fail(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		e = apperr.Internal(err)
	}
	status := apperr.StatusOf(e)
	c.JSON(status, gin.H{"code": status, "error_code": e.Code, "msg": e.Message})
}

func listListings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Listing
		if err := db.Where("active = ?", true).Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func createListing(db *gorm.DB, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}
		var req struct {
			SellerID uint                  `json:"seller_id" binding:"required,min=1"`
			Title    string                `json:"title" binding:"required"`
			Category model.ListingCategory `json:"category"`
			Price    int64                 `json:"price" binding:"required,min=1"`
			Quantity int                   `json:"quantity" binding:"omitempty,min=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.Category == "" {
			req.Category = model.CategoryGeneral
		}
		l := &model.Listing{
			SellerID: req.SellerID,
			Title:    req.Title,
			Category: req.Category,
			Price:    req.Price,
			Currency: "TRY",
			Quantity: req.Quantity,
			Active:   true,
		}
		if err := db.Create(l).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": l})
	}
}

func listAddresses(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		var out []model.Address
		if err := db.Where("user_id = ?", uid).Find(&out).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": out})
	}
}

func createAddress(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		var req struct {
			Title    string `json:"title"`
			FullName string `json:"full_name" binding:"required"`
			Line     string `json:"line" binding:"required"`
			City     string `json:"city" binding:"required"`
			Country  string `json:"country"`
			ZipCode  string `json:"zip_code"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.Country == "" {
			req.Country = "Türkiye"
		}
		a := &model.Address{
			UserID:   uid,
			Title:    req.Title,
			FullName: req.FullName,
			Line:     req.Line,
			City:     req.City,
			Country:  req.Country,
			ZipCode:  req.ZipCode,
		}
		if err := db.Create(a).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": a})
	}
}

func getCart(carts cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		lines, err := carts.Get(c.Request.Context(), uid)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": lines})
	}
}

func addCartItem(carts cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		var req cart.Line
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if err := carts.Add(c.Request.Context(), uid, req); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "added"})
	}
}

func removeCartItem(carts cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		lid, err := strconv.ParseUint(c.Param("listing_id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid listing id"})
			return
		}
		if err := carts.Remove(c.Request.Context(), uid, uint(lid)); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "removed"})
	}
}

func doCheckout(orch *checkout.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		var req order.CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		o, err := orch.Checkout(c.Request.Context(), uid, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

func orderIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid order id"})
		return 0, false
	}
	return uint(id), true
}

func cancelOrder(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		oid, ok := orderIDParam(c)
		if !ok {
			return
		}
		var req settlement.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		o, err := engine.Cancel(c.Request.Context(), oid, uid, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

func refundOrder(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		oid, ok := orderIDParam(c)
		if !ok {
			return
		}
		var req settlement.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		o, err := engine.Refund(c.Request.Context(), oid, uid, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

func completeOrder(engine *settlement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		oid, ok := orderIDParam(c)
		if !ok {
			return
		}
		o, err := engine.Complete(c.Request.Context(), oid, uid)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

func listOrders(q *order.Queries) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		orders, err := q.ListForBuyer(c.Request.Context(), uid, page, size)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": orders})
	}
}

func getOrder(q *order.Queries) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		o, err := q.GetForBuyer(c.Request.Context(), uid, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

func listSellerOrders(q *order.Queries) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		views, err := q.ListForSeller(c.Request.Context(), uid, page, size)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": views})
	}
}

func topUpWallet(db *gorm.DB, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}
		var req struct {
			UserID uint  `json:"user_id" binding:"required,min=1"`
			Amount int64 `json:"amount" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			return payment.CreditWallet(tx, req.UserID, req.Amount)
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "credited"})
	}
}
