// Package streaming 把一条上游推送连接复用给多个 (channel, subscriber)，
// 并用成交推送合成日线 bar。
package streaming

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/metrics"
)

// Handler 一个订阅者；OnReset 在上游重连后调用（可以为 nil）
type Handler struct {
	ID      string
	OnBar   func(model.Bar)
	OnReset func()
}

// Upstream 上游订阅集合。在 Registry 锁内调用，实现不能阻塞，也不能回调 Registry。
type Upstream interface {
	SubAdd(channels ...string)
	SubRemove(channels ...string)
}

// BarObserver 每根发出去的 bar 都会再交给观察者（bus / influx）
type BarObserver interface {
	Observe(channel string, bar model.Bar)
}

type BarObserverFunc func(channel string, bar model.Bar)

func (f BarObserverFunc) Observe(channel string, bar model.Bar) { f(channel, bar) }

type nopUpstream struct{}

func (nopUpstream) SubAdd(...string)    {}
func (nopUpstream) SubRemove(...string) {}

type entry struct {
	resolution string
	bar        *model.Bar // 当前 bar；nil 表示还没有种子
	handlers   []Handler
}

type Registry struct {
	mu        sync.Mutex
	upstream  Upstream
	boundary  DayBoundary
	entries   map[string]*entry
	observers []BarObserver
}

type RegistryOption func(*Registry)

func WithObserver(o BarObserver) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

func NewRegistry(upstream Upstream, boundary DayBoundary, opts ...RegistryOption) *Registry {
	if upstream == nil {
		upstream = nopUpstream{}
	}
	r := &Registry{
		upstream: upstream,
		boundary: boundary,
		entries:  make(map[string]*entry, 16),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetUpstream 上游连接和 Registry 互相引用，构造完再接上
func (r *Registry) SetUpstream(u Upstream) {
	if u == nil {
		u = nopUpstream{}
	}
	r.mu.Lock()
	r.upstream = u
	r.mu.Unlock()
}

// Subscribe channel 已存在就追加 handler（按注册顺序推送）；
// 新 channel 用 seed 建条目并向上游 SubAdd。
func (r *Registry) Subscribe(channel, resolution string, h Handler, seed *model.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[channel]; ok {
		e.handlers = append(e.handlers, h)
		r.updateGauges()
		return
	}

	e := &entry{resolution: resolution, handlers: []Handler{h}}
	if seed != nil {
		b := *seed
		e.bar = &b
	}
	r.entries[channel] = e
	r.updateGauges()
	logger.Info(context.Background(), "[subscribeBars]: Subscribe to streaming", zap.String("channel", channel))
	r.upstream.SubAdd(channel)
}

// Unsubscribe 按订阅者 id 删除 handler；channel 空了就删条目并 SubRemove。
// 返回是否找到。
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for channel, e := range r.entries {
		idx := -1
		for i, h := range e.handlers {
			if h.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		found = true
		e.handlers = append(e.handlers[:idx], e.handlers[idx+1:]...)
		if len(e.handlers) == 0 {
			delete(r.entries, channel)
			logger.Info(context.Background(), "[unsubscribeBars]: Unsubscribe from streaming", zap.String("channel", channel))
			r.upstream.SubRemove(channel)
		}
	}
	r.updateGauges()
	return found
}

// HandleMessage 处理一条原始推送。坏数据、非成交、没人订阅的 channel 都静默丢弃（只记指标）。
func (r *Registry) HandleMessage(raw string) {
	tick, err := ParseTick(raw)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("malformed").Inc()
		return
	}
	if tick.Type != TypeTrade {
		metrics.TicksTotal.WithLabelValues("not_trade").Inc()
		return
	}
	channel := tick.Channel()

	r.mu.Lock()
	e, ok := r.entries[channel]
	if !ok {
		r.mu.Unlock()
		metrics.TicksTotal.WithLabelValues("unknown_channel").Inc()
		return
	}

	bar, result := r.apply(e.bar, tick)
	e.bar = &bar
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	observers := r.observers
	r.mu.Unlock()

	metrics.TicksTotal.WithLabelValues(result).Inc()
	for _, h := range handlers {
		if h.OnBar != nil {
			h.OnBar(bar)
		}
	}
	for _, o := range observers {
		o.Observe(channel, bar)
	}
}

// apply 计算新的当前 bar：过了日界开新 bar，否则原地更新 high/low/close
func (r *Registry) apply(cur *model.Bar, t Tick) (model.Bar, string) {
	tickMs := t.TimeMs()
	if cur == nil {
		return model.Bar{
			Time:   r.boundary.StartOf(tickMs),
			Open:   t.Price,
			High:   t.Price,
			Low:    t.Price,
			Close:  t.Price,
			Volume: t.Quantity,
		}, "new_bar"
	}

	next := r.boundary.Next(cur.Time)
	if tickMs >= next {
		return model.Bar{
			Time:   next,
			Open:   t.Price,
			High:   t.Price,
			Low:    t.Price,
			Close:  t.Price,
			Volume: t.Quantity,
		}, "new_bar"
	}

	b := *cur
	b.High = max(b.High, t.Price)
	b.Low = min(b.Low, t.Price)
	b.Close = t.Price
	b.Volume += t.Quantity
	return b, "applied"
}

// Channels 当前有订阅的 channel
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for ch := range r.entries {
		out = append(out, ch)
	}
	return out
}

// Snapshot channel 的当前 bar 和 handler 数
func (r *Registry) Snapshot(channel string) (bar *model.Bar, handlers int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channel]
	if !ok {
		return nil, 0, false
	}
	if e.bar != nil {
		b := *e.bar
		bar = &b
	}
	return bar, len(e.handlers), true
}

// ResetAll 通知所有订阅者重新拉历史（上游重连后调用）
func (r *Registry) ResetAll() {
	r.mu.Lock()
	resets := make([]func(), 0, len(r.entries))
	for _, e := range r.entries {
		for _, h := range e.handlers {
			if h.OnReset != nil {
				resets = append(resets, h.OnReset)
			}
		}
	}
	r.mu.Unlock()

	for _, fn := range resets {
		fn()
	}
}

func (r *Registry) updateGauges() {
	n := 0
	for _, e := range r.entries {
		n += len(e.handlers)
	}
	metrics.LiveChannels.Set(float64(len(r.entries)))
	metrics.LiveHandlers.Set(float64(n))
}
