// Package bus 把实时 bar 发布到 NATS，
// 供其他实例或下游消费者订阅。
package bus

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	// publish
	Publish(ctx context.Context, topic string, payload []byte) error
	// 订阅，ctx 结束时关闭返回的 channel
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	// 关闭
	Close() error
}
