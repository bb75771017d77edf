package model

import "gorm.io/gorm"

// AutoMigrate creates every table the service owns. Shared between the
// server entrypoint and test setup.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Listing{},
		&Address{},
		&Order{},
		&OrderItem{},
		&Shipping{},
		&OrderItemEscrow{},
		&OrderItemCancel{},
		&OrderItemRefund{},
		&Payment{},
		&Wallet{},
	)
}
