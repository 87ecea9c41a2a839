package streaming

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"chartfeed.com/internal/datafeed/symbol"
)

// TypeTrade 成交推送的类型码
const TypeTrade = symbol.TradeType

// 字段下标：type~exchange~base~quote~flags~tradeId~time~quantity~price~...
const (
	fieldType = iota
	fieldExchange
	fieldBase
	fieldQuote
	fieldFlags
	fieldTradeID
	fieldTime
	fieldQuantity
	fieldPrice
	minFields
)

var ErrMalformedTick = errors.New("malformed tick")

// Tick 一条成交推送；Time 是 Unix 秒
type Tick struct {
	Type     int
	Exchange string
	Base     string
	Quote    string
	Time     int64
	Quantity float64
	Price    float64
}

func (t Tick) Channel() string {
	return symbol.ChannelOf(t.Exchange, t.Base, t.Quote)
}

// TimeMs 推送时间换成毫秒，和 bar 时间同一单位
func (t Tick) TimeMs() int64 { return t.Time * 1000 }

// ParseTick 解析波浪线分隔的推送记录。
// 非成交类型只解析 type 就返回，调用方据此丢弃。
func ParseTick(raw string) (Tick, error) {
	parts := strings.Split(raw, "~")
	typ, err := strconv.Atoi(parts[fieldType])
	if err != nil {
		return Tick{}, ErrMalformedTick
	}
	if typ != TypeTrade {
		return Tick{Type: typ}, nil
	}
	if len(parts) < minFields {
		return Tick{}, ErrMalformedTick
	}

	t := Tick{
		Type:     typ,
		Exchange: parts[fieldExchange],
		Base:     parts[fieldBase],
		Quote:    parts[fieldQuote],
	}
	if t.Exchange == "" || t.Base == "" || t.Quote == "" {
		return Tick{}, ErrMalformedTick
	}
	if t.Time, err = strconv.ParseInt(parts[fieldTime], 10, 64); err != nil {
		return Tick{}, ErrMalformedTick
	}

	// 只接受十进制数：NaN、Inf、十六进制浮点在这里就判为坏数据，
	// 转出来的 float64 和 ParseFloat 一样
	price, err := decimal.NewFromString(parts[fieldPrice])
	if err != nil {
		return Tick{}, ErrMalformedTick
	}
	t.Price = price.InexactFloat64()

	if q := parts[fieldQuantity]; q != "" {
		qty, err := decimal.NewFromString(q)
		if err != nil {
			return Tick{}, ErrMalformedTick
		}
		t.Quantity = qty.InexactFloat64()
	}
	return t, nil
}
