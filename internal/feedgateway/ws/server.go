// Package ws 浏览器侧的实时 bar 推送：一条连接上可以有多个订阅，
// 每个订阅都映射成一次 datafeed SubscribeBars。
package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/internal/wsmetrics"
	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/safe"
)

// Feed 由 datafeed.Datafeed 实现
type Feed interface {
	ResolveSymbol(ctx context.Context, name string) (model.SymbolInfo, error)
	SubscribeBars(info model.SymbolInfo, resolution string, onBar func(model.Bar), subscriberUID string, onReset func()) error
	UnsubscribeBars(subscriberUID string)
}

const maxFlush = 256 // 单次最多写多少条

type Server struct {
	Feed     Feed
	Upgrader websocket.Upgrader
	ctx      context.Context

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(ctx context.Context, feed Feed, allowOrigin func(r *http.Request) bool) *Server {
	if allowOrigin == nil {
		allowOrigin = func(r *http.Request) bool { return true }
	}
	return &Server{
		Feed: feed,
		ctx:  ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     allowOrigin,
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  4 << 10,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "[ws] upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(wsConn)
	wsmetrics.OnOpen()
	logger.Debug(s.ctx, "[ws] connected", zap.String("conn", c.id), zap.String("remote", r.RemoteAddr))

	safe.Go(func() { s.writePump(c) })
	safe.Go(func() { s.readPump(c) })
}

func (s *Server) readPump(c *Conn) {
	reason := "closed"
	defer func() {
		c.close()
		for _, uid := range c.drain() {
			s.Feed.UnsubscribeBars(uid)
		}
		_ = c.ws.Close()
		wsmetrics.OnClose(reason)
		logger.Debug(s.ctx, "[ws] disconnected", zap.String("conn", c.id), zap.String("reason", reason))
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			reason = "shutdown"
			return
		default:
		}
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				reason = "timeout"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				reason = "closed"
			default:
				reason = "error"
			}
			return
		}
		var msg ClientMsg
		if json.Unmarshal(b, &msg) != nil {
			continue
		}
		switch msg.Type {
		case TypeSubscribe:
			s.subscribe(c, msg)
		case TypeUnsubscribe:
			if uid, ok := c.untrack(msg.ID); ok {
				s.Feed.UnsubscribeBars(uid)
				wsmetrics.SubOpsTotal.WithLabelValues("unsubscribe").Inc()
			}
		}
	}
}

func (s *Server) subscribe(c *Conn, msg ClientMsg) {
	if msg.ID == "" {
		s.reject(c, msg.ID, "missing id")
		return
	}
	info, err := s.Feed.ResolveSymbol(s.ctx, msg.Symbol)
	if err != nil {
		s.reject(c, msg.ID, err.Error())
		return
	}

	uid, replaced := c.track(msg.ID)
	if replaced != "" {
		s.Feed.UnsubscribeBars(replaced)
	}

	id := msg.ID
	onBar := func(b model.Bar) {
		if payload, err := json.Marshal(ServerMsg{Type: TypeBar, ID: id, Bar: &b}); err == nil {
			c.Offer("bar:"+id, payload)
		}
	}
	onReset := func() {
		if payload, err := json.Marshal(ServerMsg{Type: TypeReset, ID: id}); err == nil {
			c.Offer("reset:"+id, payload)
		}
	}
	if err := s.Feed.SubscribeBars(info, msg.Resolution, onBar, uid, onReset); err != nil {
		c.untrack(msg.ID)
		s.reject(c, msg.ID, err.Error())
		return
	}
	wsmetrics.SubOpsTotal.WithLabelValues("subscribe").Inc()

	if payload, err := json.Marshal(ServerMsg{Type: TypeSubscribed, ID: id}); err == nil {
		c.Offer("subscribed:"+id, payload)
	}
}

func (s *Server) reject(c *Conn, id, reason string) {
	wsmetrics.SubOpsTotal.WithLabelValues("rejected").Inc()
	if payload, err := json.Marshal(ServerMsg{Type: TypeError, ID: id, Error: reason}); err == nil {
		c.Offer("error:"+id, payload)
	}
}

func (s *Server) writePump(c *Conn) {
	if s.PingJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.PingJitter))))
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
			return
		case <-s.ctx.Done():
			t.Stop()
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.notify:
			batch := c.flushLatest(maxFlush)
			if len(batch) == 0 {
				continue
			}
			if err := s.writeBatch(c, batch); err != nil {
				logger.Debug(s.ctx, "[ws] write failed", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.WriteWait)); err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				return
			}
		case <-c.done:
			return
		case <-s.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(s.WriteWait))
			return
		}
	}
}

// writeBatch 一次 NextWriter 写完本批，多条 JSON 用换行分隔
func (s *Server) writeBatch(c *Conn, batch [][]byte) (err error) {
	start := time.Now()
	bytes := 0
	defer func() { wsmetrics.ObserveWrite(len(batch), bytes, time.Since(start), err) }()

	_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	for i, payload := range batch {
		if i > 0 {
			if _, err = w.Write([]byte("\n")); err != nil {
				_ = w.Close()
				return err
			}
		}
		n, werr := w.Write(payload)
		bytes += n
		if werr != nil {
			_ = w.Close()
			return werr
		}
	}
	return w.Close()
}
