package model

import (
	"time"

	"gorm.io/gorm"
)

// ListingCategory tags a listing with the marketplace vertical it belongs to.
type ListingCategory string

const (
	CategoryGeneral    ListingCategory = "GENERAL"
	CategoryElectronic ListingCategory = "ELECTRONIC"
	CategoryFashion    ListingCategory = "FASHION"
	CategoryRealEstate ListingCategory = "REAL_ESTATE"
	CategoryVehicle    ListingCategory = "VEHICLE"
)

// QuantityTracked reports whether checkout must reserve stock for this
// category. Unique listings (real estate, vehicles) carry no stock counter.
func (c ListingCategory) QuantityTracked() bool {
	switch c {
	case CategoryRealEstate, CategoryVehicle:
		return false
	default:
		return true
	}
}

// Listing is a seller's offer. Quantity is written only by the stock
// service (decrement on reserve, increment on compensation).
type Listing struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SellerID uint            `gorm:"not null;index" json:"seller_id"`
	Title    string          `gorm:"size:128;not null" json:"title"`
	Category ListingCategory `gorm:"size:32;not null;default:GENERAL" json:"category"`
	Price    int64           `gorm:"not null" json:"price"` // minor units (kuruş)
	Currency string          `gorm:"size:3;not null;default:TRY" json:"currency"`
	Quantity int             `gorm:"not null;default:0" json:"quantity"`
	Active   bool            `gorm:"not null;default:true" json:"active"`
}

func (Listing) TableName() string { return "listings" }
