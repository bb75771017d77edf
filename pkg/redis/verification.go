package redis

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaConsumeIfMatch deletes the code only when it matches, so a code can
// be spent exactly once even under concurrent submissions.
const luaConsumeIfMatch = `
local key = KEYS[1]
local code = ARGV[1]
if redis.call('GET', key) == code then
  return redis.call('DEL', key)
end
return 0
`

// IssueVerificationCode generates and stores a 6-digit code under the
// buyer/amount key with the given TTL. An existing unexpired code is
// overwritten; the newest delivery wins.
func IssueVerificationCode(ctx context.Context, rdb *rd.Client, userID uint, amount int64, ttl time.Duration) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())
	if err := rdb.Set(ctx, VerificationCodeKey(userID, amount), code, ttl).Err(); err != nil {
		return "", err
	}
	return code, nil
}

// ConsumeVerificationCode atomically checks and spends a code. Returns
// false when the code is wrong, expired, or already used.
func ConsumeVerificationCode(ctx context.Context, rdb *rd.Client, userID uint, amount int64, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	n, err := rdb.Eval(ctx, luaConsumeIfMatch, []string{VerificationCodeKey(userID, amount)}, code).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
