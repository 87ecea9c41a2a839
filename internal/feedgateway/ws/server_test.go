package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartfeed.com/internal/datafeed/model"
)

type fakeFeed struct {
	mu      sync.Mutex
	onBar   map[string]func(model.Bar)
	onReset map[string]func()
	unsubs  chan string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		onBar:   map[string]func(model.Bar){},
		onReset: map[string]func(){},
		unsubs:  make(chan string, 16),
	}
}

func (f *fakeFeed) ResolveSymbol(_ context.Context, name string) (model.SymbolInfo, error) {
	if name != "Kraken:BTC/USD" {
		return model.SymbolInfo{}, errors.New("cannot resolve symbol")
	}
	return model.SymbolInfo{FullName: name}, nil
}

func (f *fakeFeed) SubscribeBars(_ model.SymbolInfo, _ string, onBar func(model.Bar), uid string, onReset func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onBar[uid] = onBar
	f.onReset[uid] = onReset
	return nil
}

func (f *fakeFeed) UnsubscribeBars(uid string) {
	f.mu.Lock()
	delete(f.onBar, uid)
	delete(f.onReset, uid)
	f.mu.Unlock()
	f.unsubs <- uid
}

// only 等到唯一一个订阅出现
func (f *fakeFeed) only(t *testing.T) (string, func(model.Bar), func()) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for uid, fn := range f.onBar {
			reset := f.onReset[uid]
			f.mu.Unlock()
			return uid, fn, reset
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no subscription")
	return "", nil, nil
}

type client struct {
	c       *websocket.Conn
	pending []ServerMsg
}

func dial(t *testing.T, srv *httptest.Server) *client {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &client{c: c}
}

func (cl *client) send(t *testing.T, m ClientMsg) {
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, cl.c.WriteMessage(websocket.TextMessage, b))
}

// next 一帧里可能有多条换行分隔的消息
func (cl *client) next(t *testing.T) ServerMsg {
	t.Helper()
	if len(cl.pending) == 0 {
		_ = cl.c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, b, err := cl.c.ReadMessage()
		require.NoError(t, err)
		for _, line := range strings.Split(string(b), "\n") {
			var m ServerMsg
			require.NoError(t, json.Unmarshal([]byte(line), &m))
			cl.pending = append(cl.pending, m)
		}
	}
	m := cl.pending[0]
	cl.pending = cl.pending[1:]
	return m
}

func newTestServer(t *testing.T, feed Feed) *httptest.Server {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := NewServer(ctx, feed, nil)
	srv := httptest.NewServer(http.HandlerFunc(s.ServeWS))
	t.Cleanup(srv.Close)
	return srv
}

func TestServer_SubscribePushUnsubscribe(t *testing.T) {
	feed := newFakeFeed()
	cl := dial(t, newTestServer(t, feed))

	cl.send(t, ClientMsg{Type: TypeSubscribe, ID: "1", Symbol: "Kraken:BTC/USD", Resolution: "1D"})
	assert.Equal(t, ServerMsg{Type: TypeSubscribed, ID: "1"}, cl.next(t))

	uid, onBar, onReset := feed.only(t)
	assert.True(t, strings.HasSuffix(uid, ":1"))

	onBar(model.Bar{Time: 1_700_006_400_000, Open: 1, High: 2, Low: 0.5, Close: 1.5})
	m := cl.next(t)
	assert.Equal(t, TypeBar, m.Type)
	assert.Equal(t, "1", m.ID)
	require.NotNil(t, m.Bar)
	assert.Equal(t, 1.5, m.Bar.Close)

	onReset()
	assert.Equal(t, ServerMsg{Type: TypeReset, ID: "1"}, cl.next(t))

	cl.send(t, ClientMsg{Type: TypeUnsubscribe, ID: "1"})
	select {
	case got := <-feed.unsubs:
		assert.Equal(t, uid, got)
	case <-time.After(2 * time.Second):
		t.Fatal("not unsubscribed")
	}
}

func TestServer_RejectsUnknownSymbol(t *testing.T) {
	feed := newFakeFeed()
	cl := dial(t, newTestServer(t, feed))

	cl.send(t, ClientMsg{Type: TypeSubscribe, ID: "x", Symbol: "Nope:AAA/BBB"})
	assert.Equal(t, ServerMsg{Type: TypeError, ID: "x", Error: "cannot resolve symbol"}, cl.next(t))

	cl.send(t, ClientMsg{Type: TypeSubscribe, Symbol: "Kraken:BTC/USD"})
	assert.Equal(t, ServerMsg{Type: TypeError, Error: "missing id"}, cl.next(t))
}

func TestServer_CloseUnsubscribesEverything(t *testing.T) {
	feed := newFakeFeed()
	cl := dial(t, newTestServer(t, feed))

	cl.send(t, ClientMsg{Type: TypeSubscribe, ID: "1", Symbol: "Kraken:BTC/USD"})
	assert.Equal(t, TypeSubscribed, cl.next(t).Type)
	uid, _, _ := feed.only(t)

	require.NoError(t, cl.c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	select {
	case got := <-feed.unsubs:
		assert.Equal(t, uid, got)
	case <-time.After(2 * time.Second):
		t.Fatal("not unsubscribed on close")
	}
}

func TestConn_LatestOnly(t *testing.T) {
	c := NewConn(nil)
	c.Offer("bar:1", []byte("a"))
	c.Offer("subscribed:1", []byte("s"))
	c.Offer("bar:1", []byte("b"))

	batch := c.flushLatest(10)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("s")}, batch)
	assert.Nil(t, c.flushLatest(10))

	c.close()
	assert.False(t, c.Offer("bar:1", []byte("c")))
}
