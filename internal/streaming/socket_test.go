package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartfeed.com/internal/datafeed/model"
)

func TestSIO_EncodeSubs(t *testing.T) {
	b, err := encodeSubs(EventSubAdd, []string{"0~Kraken~BTC~USD"})
	require.NoError(t, err)
	assert.Equal(t, `42["SubAdd",{"subs":["0~Kraken~BTC~USD"]}]`, string(b))
}

func TestSIO_DecodeFrame(t *testing.T) {
	f, err := decodeFrame([]byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":60000}`))
	require.NoError(t, err)
	assert.Equal(t, frameOpen, f.kind)
	assert.Equal(t, 25*time.Second, f.open.interval())
	assert.Equal(t, time.Minute, f.open.timeout())

	f, err = decodeFrame([]byte(`42["m","0~Kraken~BTC~USD~4~1~1700006460~0.5~100"]`))
	require.NoError(t, err)
	assert.Equal(t, frameEvent, f.kind)
	assert.Equal(t, "m", f.event)
	text, ok := f.messageText()
	assert.True(t, ok)
	assert.Equal(t, "0~Kraken~BTC~USD~4~1~1700006460~0.5~100", text)

	f, err = decodeFrame([]byte(`4212["m","x"]`))
	require.NoError(t, err)
	assert.Equal(t, "m", f.event)

	for raw, kind := range map[string]frameKind{"2": framePing, "3": framePong, "1": frameClose, "40": frameConnect, "41": frameDisconnect, "6": frameOther} {
		f, err := decodeFrame([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, kind, f.kind, raw)
	}

	_, err = decodeFrame(nil)
	assert.Error(t, err)
	_, err = decodeFrame([]byte(`42{"not":"array"}`))
	assert.Error(t, err)
}

func TestSocketIOURL(t *testing.T) {
	u, err := socketIOURL("wss://streamer.cryptocompare.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://streamer.cryptocompare.com/socket.io/?EIO=3&transport=websocket", u)

	u, err = socketIOURL("ws://127.0.0.1:9/custom?EIO=4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "ws://127.0.0.1:9/custom/?"))
	assert.Contains(t, u, "EIO=4")
}

// fakeStreamer 模拟推送服务：握手后把收到的帧转给测试，测试也可以往下推帧
type fakeStreamer struct {
	srv      *httptest.Server
	received chan string
	push     chan string
	accepts  chan struct{}
}

func newFakeStreamer(t *testing.T) *fakeStreamer {
	f := &fakeStreamer{
		received: make(chan string, 32),
		push:     make(chan string, 32),
		accepts:  make(chan struct{}, 8),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/socket.io/", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("EIO"))

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		f.accepts <- struct{}{}

		_ = c.Write(ctx, websocket.MessageText, []byte(`0{"sid":"s1","pingInterval":25000,"pingTimeout":60000}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`40`))

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				_, b, err := c.Read(ctx)
				if err != nil {
					return
				}
				f.received <- string(b)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-gone:
				return
			case msg, ok := <-f.push:
				if !ok {
					_ = c.Close(websocket.StatusGoingAway, "restart")
					return
				}
				if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStreamer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-f.received:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", want)
	}
}

func TestStreamer_ReplaysSubsAndDeliversTrades(t *testing.T) {
	fs := newFakeStreamer(t)

	st := NewStreamer(fs.srv.URL)
	st.Reconnect = false
	reg := NewRegistry(st, UTCDays())
	st.OnMessage = reg.HandleMessage

	bars := make(chan model.Bar, 4)
	// 连接前订阅：连上后整体重放
	reg.Subscribe(btcChannel, "1D", Handler{ID: "a", OnBar: func(b model.Bar) { bars <- b }}, seedBar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx) }()

	fs.expect(t, `42["SubAdd",{"subs":["0~Kraken~BTC~USD"]}]`)

	fs.push <- `42["m","` + trade(day0+60, "120") + `"]`
	select {
	case b := <-bars:
		assert.Equal(t, 120.0, b.Close)
		assert.Equal(t, day0*1000, b.Time)
	case <-time.After(2 * time.Second):
		t.Fatal("no bar delivered")
	}

	// 连上之后的订阅 / 退订立即发出
	reg.Subscribe("0~Kraken~ETH~USD", "1D", Handler{ID: "b"}, nil)
	fs.expect(t, `42["SubAdd",{"subs":["0~Kraken~ETH~USD"]}]`)
	reg.Unsubscribe("b")
	fs.expect(t, `42["SubRemove",{"subs":["0~Kraken~ETH~USD"]}]`)
	assert.Equal(t, []string{btcChannel}, st.Active())

	// 服务端 ping 要回 pong
	fs.push <- "2"
	fs.expect(t, "3")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestStreamer_ReconnectResubscribesAndResets(t *testing.T) {
	fs := newFakeStreamer(t)

	st := NewStreamer(fs.srv.URL)
	st.StableReset = time.Hour
	reg := NewRegistry(st, UTCDays())
	st.OnMessage = reg.HandleMessage
	resets := make(chan struct{}, 4)
	st.OnReconnect = reg.ResetAll

	reg.Subscribe(btcChannel, "1D", Handler{ID: "a", OnReset: func() { resets <- struct{}{} }}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = st.Run(ctx) }()

	<-fs.accepts
	fs.expect(t, `42["SubAdd",{"subs":["0~Kraken~BTC~USD"]}]`)

	// 服务端主动断开
	fs.push <- "41"

	select {
	case <-fs.accepts:
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect")
	}
	fs.expect(t, `42["SubAdd",{"subs":["0~Kraken~BTC~USD"]}]`)
	select {
	case <-resets:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReset not called after reconnect")
	}
}

func TestStreamer_NoReconnectReturnsDialError(t *testing.T) {
	st := NewStreamer("ws://127.0.0.1:1")
	st.Reconnect = false
	st.DialTimeout = 200 * time.Millisecond
	err := st.Run(context.Background())
	assert.Error(t, err)
}
