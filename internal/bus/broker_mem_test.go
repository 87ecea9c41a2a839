package bus

import (
	"context"
	"sync"
)

// MemBroker 进程内 Broker，测试里代替 nats
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// fanout：at-most-once，慢订阅者直接丢
	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, 1024)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(ch, topics)
		close(ch)
	}()

	return ch, nil
}

// remove 先摘掉再 close，Publish 持读锁发送，不会写到已关闭的 channel
func (b *MemBroker) remove(ch chan Message, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		list := b.subs[t]
		for i, c := range list {
			if c == ch {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(b.subs, t)
		} else {
			b.subs[t] = list
		}
	}
}

func (b *MemBroker) Close() error { return nil }
