package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func dispatchKey(id string) string {
	return fmt.Sprintf("dispatch:%s", id)
}

func (c *RedisCache) StoreDispatch(ctx context.Context, result model.DispatchResult) error {
	if result.DispatchID == "" {
		return errors.New("dispatch id is required")
	}

	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, dispatchKey(result.DispatchID), b, c.ttl).Err()
}

func (c *RedisCache) LoadDispatch(ctx context.Context, dispatchID string) (model.DispatchResult, error) {
	raw, err := c.rdb.Get(ctx, dispatchKey(dispatchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.DispatchResult{}, ErrMiss
	}
	if err != nil {
		return model.DispatchResult{}, err
	}

	var out model.DispatchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.DispatchResult{}, fmt.Errorf("decode cached dispatch %s: %w", dispatchID, err)
	}
	return out, nil
}
