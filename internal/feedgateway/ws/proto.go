package ws

import "chartfeed.com/internal/datafeed/model"

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	TypeSubscribed = "subscribed"
	TypeBar        = "bar"
	TypeReset      = "reset"
	TypeError      = "error"
)

// ClientMsg 浏览器发来的订阅 / 退订；id 由前端生成，在一条连接内唯一
type ClientMsg struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Symbol     string `json:"symbol,omitempty"` // Kraken:BTC/USD
	Resolution string `json:"resolution,omitempty"`
}

type ServerMsg struct {
	Type  string     `json:"type"`
	ID    string     `json:"id"`
	Bar   *model.Bar `json:"bar,omitempty"`
	Error string     `json:"error,omitempty"`
}
