// Package universe 维护"全部可交易 symbol"列表：上游拉一次，按 TTL 缓存，
// 并发 miss 只打一次上游。
package universe

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/metrics"
)

// Source 一个 symbol universe 来源
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.SymbolItem, error)
}

// Store 缓存层；ok=false 表示没有或已过期
type Store interface {
	Load(ctx context.Context, key string) ([]model.SymbolItem, bool, error)
	Save(ctx context.Context, key string, items []model.SymbolItem, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Locker 跨实例互斥，由 xredis.Locker 实现
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

const (
	DefaultTTL = 10 * time.Minute

	lockTTL    = 30 * time.Second
	lockPoll   = 200 * time.Millisecond
	lockRounds = 25

	// 一次上游拉取（含等锁）的上限
	fetchTimeout = 30 * time.Second
)

type Universe struct {
	src   Source
	store Store
	ttl   time.Duration
	key   string
	sf    singleflight.Group

	locker       Locker
	lockPoll     time.Duration
	fetchTimeout time.Duration
}

type Option func(*Universe)

// WithLocker 共享缓存时用：同一时刻只有一个实例去拉上游，其余等它写回
func WithLocker(l Locker) Option {
	return func(u *Universe) { u.locker = l }
}

func New(src Source, store Store, ttl time.Duration, opts ...Option) *Universe {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if store == nil {
		store = NewMemStore()
	}
	u := &Universe{
		src:          src,
		store:        store,
		ttl:          ttl,
		key:          "universe:" + src.Name(),
		lockPoll:     lockPoll,
		fetchTimeout: fetchTimeout,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Symbols 返回完整列表。缓存读写失败只降级成直接拉取，不让调用失败
func (u *Universe) Symbols(ctx context.Context) ([]model.SymbolItem, error) {
	items, ok, err := u.store.Load(ctx, u.key)
	if err != nil {
		metrics.UniverseCacheTotal.WithLabelValues("store_error").Inc()
		logger.Warn(ctx, "[universe] cache load failed", zap.String("key", u.key), zap.Error(err))
	}
	if ok {
		metrics.UniverseCacheTotal.WithLabelValues("hit").Inc()
		return items, nil
	}
	metrics.UniverseCacheTotal.WithLabelValues("miss").Inc()

	// 拉取不跟随任何一个调用方的取消：共享同一次拉取的其他调用方不受影响，
	// 各自只按自己的 ctx 放弃等待
	ch := u.sf.DoChan(u.key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.fetchTimeout)
		defer cancel()
		if u.locker != nil {
			return u.fetchShared(fctx)
		}
		return u.fetch(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.SymbolItem), nil
	}
}

func (u *Universe) fetch(ctx context.Context) ([]model.SymbolItem, error) {
	items, err := u.src.Fetch(ctx)
	if err != nil {
		metrics.UniverseCacheTotal.WithLabelValues("fetch_error").Inc()
		return nil, err
	}
	if err := u.store.Save(ctx, u.key, items, u.ttl); err != nil {
		metrics.UniverseCacheTotal.WithLabelValues("store_error").Inc()
		logger.Warn(ctx, "[universe] cache save failed", zap.String("key", u.key), zap.Error(err))
	}
	logger.Info(ctx, "[universe] fetched", zap.String("source", u.src.Name()), zap.Int("symbols", len(items)))
	return items, nil
}

// fetchShared 抢不到锁就轮询缓存，等持锁实例写回；等不到再自己拉
func (u *Universe) fetchShared(ctx context.Context) ([]model.SymbolItem, error) {
	lockKey := "lock:" + u.key
	got, err := u.locker.TryLock(ctx, lockKey, lockTTL)
	if err != nil {
		logger.Warn(ctx, "[universe] lock failed", zap.String("key", lockKey), zap.Error(err))
		return u.fetch(ctx)
	}
	if got {
		defer func() {
			if err := u.locker.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
				logger.Warn(ctx, "[universe] unlock failed", zap.String("key", lockKey), zap.Error(err))
			}
		}()
		return u.fetch(ctx)
	}

	t := time.NewTicker(u.lockPoll)
	defer t.Stop()
	for i := 0; i < lockRounds; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		if items, ok, _ := u.store.Load(ctx, u.key); ok {
			metrics.UniverseCacheTotal.WithLabelValues("shared").Inc()
			return items, nil
		}
	}
	return u.fetch(ctx)
}

// Find 按 full_name 精确查找
func (u *Universe) Find(ctx context.Context, fullName string) (model.SymbolItem, bool, error) {
	items, err := u.Symbols(ctx)
	if err != nil {
		return model.SymbolItem{}, false, err
	}
	for _, it := range items {
		if it.FullName == fullName {
			return it, true, nil
		}
	}
	return model.SymbolItem{}, false, nil
}

// Invalidate 丢掉缓存，下一次 Symbols 重新拉
func (u *Universe) Invalidate(ctx context.Context) error {
	return u.store.Invalidate(ctx, u.key)
}
