package tokencache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rt:missing"

// RedisCache marks absent tokens with rt:missing:{userID}:{tokenID}.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func missingKey(userID int64, tokenID string) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, userID, tokenID)
}

func (c *RedisCache) Missing(ctx context.Context, userID int64, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, missingKey(userID, tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) MarkMissing(ctx context.Context, userID int64, tokenID string) error {
	if c.ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, missingKey(userID, tokenID), 1, c.ttl).Err()
}

func (c *RedisCache) Forget(ctx context.Context, userID int64, tokenIDs ...string) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		keys = append(keys, missingKey(userID, id))
	}
	return c.client.Del(ctx, keys...).Err()
}
