package streaming

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/metrics"
)

const DefaultStreamURL = "wss://streamer.cryptocompare.com"

var errServerClosed = errors.New("server closed the socket")

// Streamer 到行情推送服务的唯一一条 socket 连接，实现 Upstream。
// 维护当前订阅集合，每次（重）连上都整体重发 SubAdd。
type Streamer struct {
	URL          string
	Reconnect    bool          // false：只连一次，断了不再重连
	DialTimeout  time.Duration // 默认 5s
	StableReset  time.Duration // 连接存活多久才重置 backoff
	WriteTimeout time.Duration

	OnMessage   func(raw string) // "m" 事件；在读协程里同步调用，不能阻塞
	OnReconnect func()           // 第二次及以后连上时调用

	mu        sync.Mutex
	active    map[string]struct{}
	pending   [][]byte
	connected bool
	notify    chan struct{}
}

func NewStreamer(url string) *Streamer {
	if url == "" {
		url = DefaultStreamURL
	}
	return &Streamer{
		URL:          url,
		Reconnect:    true,
		DialTimeout:  5 * time.Second,
		StableReset:  10 * time.Second,
		WriteTimeout: 2 * time.Second,
		active:       make(map[string]struct{}, 16),
		notify:       make(chan struct{}, 1),
	}
}

func (s *Streamer) SubAdd(channels ...string) {
	s.update(EventSubAdd, channels, true)
}

func (s *Streamer) SubRemove(channels ...string) {
	s.update(EventSubRemove, channels, false)
}

// Active 当前订阅集合（排序）
func (s *Streamer) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Streamer) activeLocked() []string {
	out := make([]string, 0, len(s.active))
	for ch := range s.active {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (s *Streamer) update(event string, channels []string, add bool) {
	if len(channels) == 0 {
		return
	}
	s.mu.Lock()
	for _, ch := range channels {
		if add {
			s.active[ch] = struct{}{}
		} else {
			delete(s.active, ch)
		}
	}
	// 没连上时只改集合，连上后整体重放
	if s.connected {
		if msg, err := encodeSubs(event, channels); err == nil {
			s.pending = append(s.pending, msg)
		}
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Streamer) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run 阻塞直到 ctx 结束；Reconnect=false 时第一条连接结束就返回
func (s *Streamer) Run(ctx context.Context) error {
	endpoint, err := socketIOURL(s.URL)
	if err != nil {
		return err
	}

	backoff := 200 * time.Millisecond
	maxBackoff := 10 * time.Second
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	connects := 0

	for ctx.Err() == nil {
		dctx, cancel := context.WithTimeout(ctx, s.DialTimeout)
		conn, _, err := websocket.Dial(dctx, endpoint, nil)
		cancel()
		if err != nil {
			if !s.Reconnect {
				logger.Error(ctx, "[socket] Error", zap.Error(err))
				return err
			}
			sleep := jitter(rng, backoff)
			logger.Warn(ctx, "[socket] dial failed", zap.Error(err), zap.Duration("retry_in", sleep))
			if !sleepCtx(ctx, sleep) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		connects++
		if connects > 1 {
			metrics.SocketReconnectTotal.Inc()
		}
		logger.Info(ctx, "[socket] Connected", zap.String("url", endpoint))
		start := time.Now()

		err = s.serveConn(ctx, conn, connects > 1)
		_ = conn.CloseNow()
		s.setDisconnected()

		if time.Since(start) >= s.StableReset {
			backoff = 200 * time.Millisecond
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(ctx, "[socket] Disconnected", zap.Error(err), zap.Int("close_status", int(websocket.CloseStatus(err))))
		}
		if !s.Reconnect {
			return err
		}
	}
	return ctx.Err()
}

func (s *Streamer) setDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.pending = nil
	s.mu.Unlock()
}

func (s *Streamer) serveConn(ctx context.Context, conn *websocket.Conn, reconnected bool) error {
	// 1) 握手：第一帧必须是 open，拿到心跳参数
	hctx, cancel := context.WithTimeout(ctx, s.DialTimeout)
	_, raw, err := conn.Read(hctx)
	cancel()
	if err != nil {
		return err
	}
	f, err := decodeFrame(raw)
	if err != nil {
		return err
	}
	if f.kind != frameOpen {
		return errors.New("expected open frame")
	}
	pingEvery := f.open.interval()
	if pingEvery <= 0 {
		pingEvery = 25 * time.Second
	}
	readTimeout := pingEvery + f.open.timeout()
	if f.open.timeout() <= 0 {
		readTimeout = 2 * pingEvery
	}

	// 2) 整体重放订阅集合
	s.mu.Lock()
	s.connected = true
	s.pending = s.pending[:0]
	if subs := s.activeLocked(); len(subs) > 0 {
		if msg, err := encodeSubs(EventSubAdd, subs); err == nil {
			s.pending = append(s.pending, msg)
		}
	}
	s.mu.Unlock()
	s.wake()

	if reconnected && s.OnReconnect != nil {
		s.OnReconnect()
	}

	errCh := make(chan error, 1)
	pongCh := make(chan struct{}, 1)

	// 3) Reader
	go func() {
		for {
			rctx, cancel := context.WithTimeout(ctx, readTimeout)
			_, raw, err := conn.Read(rctx)
			cancel()
			if err != nil {
				errCh <- err
				return
			}
			f, err := decodeFrame(raw)
			if err != nil {
				logger.Debug(ctx, "[socket] bad frame", zap.ByteString("raw", raw), zap.Error(err))
				continue
			}
			switch f.kind {
			case framePing:
				select {
				case pongCh <- struct{}{}:
				default:
				}
			case frameClose, frameDisconnect:
				errCh <- errServerClosed
				return
			case frameEvent:
				if f.event != EventMessage {
					continue
				}
				if text, ok := f.messageText(); ok && s.OnMessage != nil {
					s.OnMessage(text)
				}
			}
		}
	}()

	pingT := time.NewTicker(pingEvery)
	defer pingT.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()

		case err := <-errCh:
			return err

		case <-s.notify:
			if err := s.flush(ctx, conn); err != nil {
				return err
			}

		case <-pongCh:
			if err := s.write(ctx, conn, pongFrame); err != nil {
				return err
			}

		case <-pingT.C:
			if err := s.write(ctx, conn, pingFrame); err != nil {
				return err
			}
		}
	}
}

func (s *Streamer) flush(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, msg := range batch {
		if err := s.write(ctx, conn, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Streamer) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, msg)
}

func jitter(rng *rand.Rand, d time.Duration) time.Duration {
	f := 0.5 + rng.Float64() // 0.5x~1.5x
	return time.Duration(float64(d) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
