package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient abstracts the Redis operations used by RedisStore. In
// production this is satisfied by Wrap(*redis.Client); in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key, min, max string) error
	Del(ctx context.Context, keys ...string) error
}

// goRedis adapts *redis.Client to the RedisClient interface.
type goRedis struct {
	c *redis.Client
}

// Wrap adapts a go-redis client for use with NewRedisStore.
func Wrap(c *redis.Client) RedisClient { return goRedis{c: c} }

func (g goRedis) HSet(ctx context.Context, key string, values ...any) error {
	return g.c.HSet(ctx, key, values...).Err()
}

func (g goRedis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return g.c.Expire(ctx, key, ttl).Err()
}

func (g goRedis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return g.c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (g goRedis) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	return g.c.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
}

func (g goRedis) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	return g.c.ZRemRangeByScore(ctx, key, min, max).Err()
}

func (g goRedis) Del(ctx context.Context, keys ...string) error {
	return g.c.Del(ctx, keys...).Err()
}

const expiryIndexKey = "opps:by-expiry"

// RedisStore persists opportunities using the schema:
//
//	Key:    opp:{exchange}:{triangle_id}   (hash with the record fields)
//	Index:  opps:by-expiry                 (zset, score = expiry unix ms)
//
// Each hash also carries a key TTL slightly past its logical expiry, so
// Redis reclaims records even when no sweep runs.
type RedisStore struct {
	client RedisClient
}

func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func oppKey(exchange, id string) string {
	return fmt.Sprintf("opp:%s:%s", exchange, id)
}

func joinPrices(prices [3]float64) string {
	parts := make([]string, len(prices))
	for i, p := range prices {
		parts[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	key := oppKey(rec.Exchange, rec.ID)

	err := s.client.HSet(ctx, key,
		"exchange", rec.Exchange,
		"user_id", rec.UserID,
		"symbols", strings.Join(rec.Symbols[:], ","),
		"prices", joinPrices(rec.Prices),
		"direction", rec.Direction,
		"profit_pct", strconv.FormatFloat(rec.ProfitPercent, 'f', -1, 64),
		"profit_amount", strconv.FormatFloat(rec.ProfitAmount, 'f', -1, 64),
		"position_size", strconv.FormatFloat(rec.PositionSize, 'f', -1, 64),
		"detected_at", strconv.FormatInt(rec.DetectedAt.UnixMilli(), 10),
		"expires_at", strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
	)
	if err != nil {
		return fmt.Errorf("persist opportunity %s: %w", key, err)
	}
	if ttl := time.Until(rec.ExpiresAt) + time.Minute; ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl); err != nil {
			return fmt.Errorf("set ttl on %s: %w", key, err)
		}
	}
	if err := s.client.ZAdd(ctx, expiryIndexKey, float64(rec.ExpiresAt.UnixMilli()), key); err != nil {
		return fmt.Errorf("index opportunity %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.UnixMilli(), 10)

	keys, err := s.client.ZRangeByScore(ctx, expiryIndexKey, "-inf", max)
	if err != nil {
		return 0, fmt.Errorf("scan expired opportunities: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("delete expired opportunities: %w", err)
	}
	if err := s.client.ZRemRangeByScore(ctx, expiryIndexKey, "-inf", max); err != nil {
		return 0, fmt.Errorf("trim expiry index: %w", err)
	}
	return len(keys), nil
}
