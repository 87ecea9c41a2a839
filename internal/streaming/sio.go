package streaming

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
)

// Socket.IO v2 / Engine.IO v3 的最小子集，只覆盖推送服务用到的帧：
//
//	0{...}   open（带 pingInterval / pingTimeout）
//	1        close
//	2 / 3    ping / pong
//	40 / 41  namespace connect / disconnect
//	42[...]  event：["name", payload...]
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'

	sioConnect    = '0'
	sioDisconnect = '1'
	sioEvent      = '2'
)

const (
	EventSubAdd    = "SubAdd"
	EventSubRemove = "SubRemove"
	EventMessage   = "m"
)

var (
	pingFrame = []byte{eioPing}
	pongFrame = []byte{eioPong}

	errEmptyFrame = errors.New("empty frame")
)

type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // ms
	PingTimeout  int    `json:"pingTimeout"`  // ms
}

func (o openPayload) interval() time.Duration {
	return time.Duration(o.PingInterval) * time.Millisecond
}

func (o openPayload) timeout() time.Duration {
	return time.Duration(o.PingTimeout) * time.Millisecond
}

type frameKind int

const (
	frameOther frameKind = iota
	frameOpen
	frameClose
	framePing
	framePong
	frameConnect
	frameDisconnect
	frameEvent
)

type frame struct {
	kind  frameKind
	open  openPayload
	event string
	args  []json.RawMessage
}

type subsPayload struct {
	Subs []string `json:"subs"`
}

// encodeEvent 42["name",payload]
func encodeEvent(name string, payload any) ([]byte, error) {
	body, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, eioMessage, sioEvent)
	return append(out, body...), nil
}

func encodeSubs(event string, channels []string) ([]byte, error) {
	return encodeEvent(event, subsPayload{Subs: channels})
}

func decodeFrame(b []byte) (frame, error) {
	if len(b) == 0 {
		return frame{}, errEmptyFrame
	}
	switch b[0] {
	case eioOpen:
		var f frame
		f.kind = frameOpen
		if err := json.Unmarshal(b[1:], &f.open); err != nil {
			return frame{}, fmt.Errorf("open frame: %w", err)
		}
		return f, nil
	case eioClose:
		return frame{kind: frameClose}, nil
	case eioPing:
		return frame{kind: framePing}, nil
	case eioPong:
		return frame{kind: framePong}, nil
	case eioMessage:
	default:
		return frame{kind: frameOther}, nil
	}

	if len(b) < 2 {
		return frame{kind: frameOther}, nil
	}
	switch b[1] {
	case sioConnect:
		return frame{kind: frameConnect}, nil
	case sioDisconnect:
		return frame{kind: frameDisconnect}, nil
	case sioEvent:
	default:
		return frame{kind: frameOther}, nil
	}

	body := b[2:]
	// 跳过可选的 ack id（数字前缀）
	for len(body) > 0 && body[0] >= '0' && body[0] <= '9' {
		body = body[1:]
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err != nil {
		return frame{}, fmt.Errorf("event frame: %w", err)
	}
	if len(arr) == 0 {
		return frame{}, fmt.Errorf("event frame: no name")
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return frame{}, fmt.Errorf("event name: %w", err)
	}
	return frame{kind: frameEvent, event: name, args: arr[1:]}, nil
}

// messageText "m" 事件的第一个参数是字符串
func (f frame) messageText() (string, bool) {
	if len(f.args) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(f.args[0], &s); err != nil {
		return "", false
	}
	return s, true
}

// socketIOURL 补全握手路径：wss://host -> wss://host/socket.io/?EIO=3&transport=websocket
func socketIOURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	q := u.Query()
	if q.Get("EIO") == "" {
		q.Set("EIO", "3")
	}
	if q.Get("transport") == "" {
		q.Set("transport", "websocket")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
