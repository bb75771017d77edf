// Package cart defines the cart collaborator contract consumed by
// checkout, plus the default Redis-backed implementation.
package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	rd "github.com/redis/go-redis/v9"

	rediskey "bazaar/pkg/redis"
)

// Line is one cart entry as checkout consumes it.
type Line struct {
	ListingID uint `json:"listing_id"`
	Quantity  int  `json:"quantity"`
}

// Store is the contract the orchestrator depends on. Checkout only ever
// reads the cart and clears it after a fully successful settlement.
type Store interface {
	Get(ctx context.Context, userID uint) ([]Line, error)
	Add(ctx context.Context, userID uint, line Line) error
	Remove(ctx context.Context, userID, listingID uint) error
	Clear(ctx context.Context, userID uint) error
}

// RedisStore keeps each cart as a hash of listing id -> quantity.
type RedisStore struct {
	rdb *rd.Client
}

func NewRedisStore(rdb *rd.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, userID uint) ([]Line, error) {
	m, err := s.rdb.HGetAll(ctx, rediskey.CartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart %d: %w", userID, err)
	}
	lines := make([]Line, 0, len(m))
	for field, val := range m {
		id, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			continue // skip corrupt fields rather than failing the cart
		}
		qty, err := strconv.Atoi(val)
		if err != nil || qty <= 0 {
			continue
		}
		lines = append(lines, Line{ListingID: uint(id), Quantity: qty})
	}
	// Hash iteration order is random; keep responses stable.
	sort.Slice(lines, func(i, j int) bool { return lines[i].ListingID < lines[j].ListingID })
	return lines, nil
}

func (s *RedisStore) Add(ctx context.Context, userID uint, line Line) error {
	if line.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	return s.rdb.HIncrBy(ctx, rediskey.CartKey(userID),
		strconv.FormatUint(uint64(line.ListingID), 10), int64(line.Quantity)).Err()
}

func (s *RedisStore) Remove(ctx context.Context, userID, listingID uint) error {
	return s.rdb.HDel(ctx, rediskey.CartKey(userID),
		strconv.FormatUint(uint64(listingID), 10)).Err()
}

func (s *RedisStore) Clear(ctx context.Context, userID uint) error {
	return s.rdb.Del(ctx, rediskey.CartKey(userID)).Err()
}
