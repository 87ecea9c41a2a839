package universe

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"

	"chartfeed.com/internal/datafeed/model"
)

// RedisStore 多实例共享同一份 universe，避免每个实例各拉一遍
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(c *redis.Client) *RedisStore {
	return &RedisStore{client: c, prefix: "chartfeed:"}
}

func (r *RedisStore) Load(ctx context.Context, key string) ([]model.SymbolItem, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []model.SymbolItem
	if err := json.Unmarshal(b, &items); err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, r.prefix+key).Err()
		return nil, false, err
	}
	return items, true, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, items []model.SymbolItem, ttl time.Duration) error {
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	// 加随机时间，多实例不同时过期
	return r.client.Set(ctx, r.prefix+key, b, withJitter(ttl, 5*time.Second)).Err()
}

func (r *RedisStore) Invalidate(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
