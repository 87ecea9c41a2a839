// Package symbol 处理 "exchange:base/quote" 这种复合 symbol 与推送 channel key。
package symbol

import (
	"fmt"
	"regexp"

	"chartfeed.com/pkg/xerr"
)

// 固定格式：三段都是 \w+，解析不了就拒绝，不做修补
var fullPattern = regexp.MustCompile(`^(\w+):(\w+)/(\w+)$`)

// ErrUnparseable：symbol 不符合 exchange:base/quote
// 调用方拿到它必须中止请求，不能把空值拼进上游参数里
var ErrUnparseable = xerr.New(xerr.RequestParamsError, "unparseable symbol")

// TradeType：推送里 "成交" 事件的类型码，也是 channel key 的前缀
const TradeType = 0

type Pair struct {
	Short string // BTC/USD
	Full  string // Kraken:BTC/USD
}

type Parts struct {
	Exchange string
	Base     string
	Quote    string
}

// Compose 由三段拼出 short / full 名
func Compose(exchange, base, quote string) Pair {
	short := base + "/" + quote
	return Pair{
		Short: short,
		Full:  exchange + ":" + short,
	}
}

// Decompose 拆 full 名；不匹配返回 ok=false
func Decompose(full string) (Parts, bool) {
	m := fullPattern.FindStringSubmatch(full)
	if m == nil {
		return Parts{}, false
	}
	return Parts{Exchange: m[1], Base: m[2], Quote: m[3]}, true
}

// MustParse 同 Decompose，但失败时返回带错误码的 ErrUnparseable
func MustParse(full string) (Parts, error) {
	p, ok := Decompose(full)
	if !ok {
		return Parts{}, fmt.Errorf("%w: %q", ErrUnparseable, full)
	}
	return p, nil
}

func (p Parts) Full() string { return Compose(p.Exchange, p.Base, p.Quote).Full }

// Channel 成交推送的订阅 key：0~Kraken~BTC~USD
func (p Parts) Channel() string { return ChannelOf(p.Exchange, p.Base, p.Quote) }

func ChannelOf(exchange, base, quote string) string {
	return fmt.Sprintf("%d~%s~%s~%s", TradeType, exchange, base, quote)
}
