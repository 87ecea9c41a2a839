package datafeed

import (
	"sync"

	"chartfeed.com/internal/datafeed/model"
)

// LastBars full_name -> 最近一根历史 bar
type LastBars struct {
	mu sync.RWMutex
	m  map[string]model.Bar
}

func NewLastBars() *LastBars {
	return &LastBars{m: make(map[string]model.Bar, 64)}
}

func (l *LastBars) Get(fullName string) (model.Bar, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.m[fullName]
	return b, ok
}

func (l *LastBars) Set(fullName string, b model.Bar) {
	l.mu.Lock()
	l.m[fullName] = b
	l.mu.Unlock()
}

func (l *LastBars) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.m)
}
