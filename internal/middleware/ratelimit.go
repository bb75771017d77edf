package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	rediskey "bazaar/pkg/redis"
)

// luaRateLimit implements a sliding-window limiter atomically:
// drop entries outside the window, count, admit if under the limit.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// CheckoutRateLimit limits checkout attempts per buyer (falling back to
// client IP when the buyer header is absent). Redis errors fail open so
// a cache outage cannot take checkout down with it.
func CheckoutRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if id, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 32); err == nil && id > 0 {
			key = rediskey.CheckoutRateKey(uint(id))
		} else {
			key = rediskey.CheckoutRateIPKey(c.ClientIP())
		}

		now := time.Now().Unix()
		windowSec := int64(window.Seconds())
		windowStart := now - windowSec
		member := strconv.FormatInt(time.Now().UnixNano(), 10)

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now, windowStart, windowSec, member, limit).Int()
		if err != nil {
			c.Next() // fail open
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "too many checkout attempts, slow down",
			})
			return
		}
		c.Next()
	}
}
