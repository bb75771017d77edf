package redis

import "fmt"

// VerificationCodeKey stores the out-of-band payment verification code
// issued to a buyer for a specific charge amount.
func VerificationCodeKey(userID uint, amount int64) string {
	return fmt.Sprintf("bazaar:payment:verify:%d:%d", userID, amount)
}

// CartKey holds a buyer's cart as a hash of listing id -> quantity.
func CartKey(userID uint) string {
	return fmt.Sprintf("bazaar:cart:%d", userID)
}

// CheckoutRateKey is the per-buyer sliding-window rate limit key.
func CheckoutRateKey(userID uint) string {
	return fmt.Sprintf("bazaar:ratelimit:checkout:user:%d", userID)
}

// CheckoutRateIPKey is the fallback rate limit key when no buyer id can
// be read from the request.
func CheckoutRateIPKey(ip string) string {
	return fmt.Sprintf("bazaar:ratelimit:checkout:ip:%s", ip)
}
