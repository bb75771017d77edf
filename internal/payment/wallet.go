package payment

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"bazaar/internal/apperr"
	"bazaar/internal/model"
)

// ensureWallet loads a user's wallet, creating an empty one on first
// use so every user can receive credits.
func ensureWallet(tx *gorm.DB, userID uint) (*model.Wallet, error) {
	var w model.Wallet
	err := tx.Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = model.Wallet{UserID: userID, Currency: "TRY"}
		if cerr := tx.Create(&w).Error; cerr != nil {
			return nil, fmt.Errorf("create wallet for user %d: %w", userID, cerr)
		}
		return &w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet for user %d: %w", userID, err)
	}
	return &w, nil
}

// DebitWallet subtracts amount from the user's balance. The decrement
// is guarded on the current balance so a concurrent debit cannot drive
// it negative; a zero-row update means INSUFFICIENT_FUNDS.
func DebitWallet(tx *gorm.DB, userID uint, amount int64) error {
	w, err := ensureWallet(tx, userID)
	if err != nil {
		return err
	}
	res := tx.Model(&model.Wallet{}).
		Where("id = ? AND balance >= ?", w.ID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debit wallet of user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict(apperr.CodeInsufficientFunds,
			"wallet of user %d has %d, needs %d", userID, w.Balance, amount)
	}
	return nil
}

// CreditWallet adds amount to the user's balance.
func CreditWallet(tx *gorm.DB, userID uint, amount int64) error {
	w, err := ensureWallet(tx, userID)
	if err != nil {
		return err
	}
	return tx.Model(&model.Wallet{}).
		Where("id = ?", w.ID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error
}
