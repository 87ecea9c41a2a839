package universe

import (
	"context"
	"sync"
	"time"

	"chartfeed.com/internal/datafeed/model"
)

type memEntry struct {
	items    []model.SymbolItem
	expireAt time.Time
}

// MemStore 进程内 TTL 缓存
type MemStore struct {
	mu  sync.RWMutex
	m   map[string]memEntry
	now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string]memEntry, 4), now: time.Now}
}

// WithClock 替换时钟，测试用
func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) Load(_ context.Context, key string) ([]model.SymbolItem, bool, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok || !s.now().Before(e.expireAt) {
		return nil, false, nil
	}
	return e.items, true, nil
}

func (s *MemStore) Save(_ context.Context, key string, items []model.SymbolItem, ttl time.Duration) error {
	s.mu.Lock()
	s.m[key] = memEntry{items: items, expireAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Invalidate(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}
