package bus

import (
	"context"
	"strings"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/internal/datafeed/symbol"
	"chartfeed.com/pkg/logger"
)

// BarEvent 总线上的一条实时 bar
type BarEvent struct {
	Channel string    `json:"channel"`
	Symbol  string    `json:"symbol"` // Kraken:BTC/USD
	Bar     model.Bar `json:"bar"`
}

// Observer 把 Registry 发出的每根 bar 发布到 bar:<exchange>:<base>-<quote>
type Observer struct {
	ctx    context.Context
	broker Broker
}

func NewObserver(ctx context.Context, b Broker) *Observer {
	return &Observer{ctx: ctx, broker: b}
}

func (o *Observer) Observe(channel string, bar model.Bar) {
	ex, base, quote, ok := splitChannel(channel)
	if !ok {
		return
	}
	payload, err := json.Marshal(BarEvent{
		Channel: channel,
		Symbol:  symbol.Compose(ex, base, quote).Full,
		Bar:     bar,
	})
	if err != nil {
		return
	}
	if err := o.broker.Publish(o.ctx, BarTopic(ex, base, quote), payload); err != nil {
		logger.Warn(o.ctx, "[bus] publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

func BarTopic(exchange, base, quote string) string {
	return "bar:" + exchange + ":" + base + "-" + quote
}

// splitChannel 0~exchange~base~quote
func splitChannel(channel string) (exchange, base, quote string, ok bool) {
	parts := strings.Split(channel, "~")
	if len(parts) != 4 {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}
