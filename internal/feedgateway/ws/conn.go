package ws

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chartfeed.com/internal/wsmetrics"
)

type Conn struct {
	id string
	ws *websocket.Conn

	mu     sync.Mutex
	latest map[string][]byte // LatestOnly：key -> last payload
	order  []string          // key 第一次出现的顺序，保证 subscribed 先于 bar
	subs   map[string]string // 前端 id -> subscriberUID

	notify chan struct{} // 缓冲 1：合并唤醒
	done   chan struct{}
	closed atomic.Bool
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		latest: make(map[string][]byte, 16),
		subs:   make(map[string]string, 8),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// uid 全局唯一的订阅者 id：<connID>:<前端 id>
func (c *Conn) uid(id string) string { return c.id + ":" + id }

// Offer 非阻塞：同一个 key 只保留最新一条，慢客户端只会少收中间值
func (c *Conn) Offer(key string, payload []byte) bool {
	if c.closed.Load() {
		wsmetrics.DroppedTotal.WithLabelValues("closed").Inc()
		return false
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)

	c.mu.Lock()
	if _, ok := c.latest[key]; ok {
		wsmetrics.DroppedTotal.WithLabelValues("superseded").Inc()
	} else {
		c.order = append(c.order, key)
	}
	c.latest[key] = cp
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *Conn) flushLatest(max int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		return nil
	}
	n := min(len(c.order), max)
	out := make([][]byte, 0, n)
	for _, k := range c.order[:n] {
		out = append(out, c.latest[k])
		delete(c.latest, k)
	}
	c.order = c.order[n:]
	if len(c.order) > 0 {
		// 还有剩余，再唤醒一次
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return out
}

// track 记录订阅；返回被顶掉的旧 uid（同一个前端 id 重复订阅）
func (c *Conn) track(id string) (uid, replaced string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced = c.subs[id]
	uid = c.uid(id)
	c.subs[id] = uid
	return uid, replaced
}

func (c *Conn) untrack(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid, ok := c.subs[id]
	delete(c.subs, id)
	return uid, ok
}

func (c *Conn) drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for _, uid := range c.subs {
		out = append(out, uid)
	}
	c.subs = map[string]string{}
	return out
}

func (c *Conn) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}
