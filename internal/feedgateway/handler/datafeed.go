package handler

import (
	"context"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/pkg/common"
	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/xerr"
)

// Feed 由 datafeed.Datafeed 实现
type Feed interface {
	OnReady() model.Configuration
	SearchSymbols(ctx context.Context, userInput, exchange, symbolType string) ([]model.SymbolItem, error)
	ResolveSymbol(ctx context.Context, name string) (model.SymbolInfo, error)
	GetBars(ctx context.Context, info model.SymbolInfo, resolution string, p model.PeriodParams) ([]model.Bar, model.HistoryMeta, error)
}

// CacheInvalidator 由 universe.Universe 实现
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// LiveInspector 由 streaming.Registry 实现
type LiveInspector interface {
	Channels() []string
	Snapshot(channel string) (bar *model.Bar, handlers int, ok bool)
}

// Counter 由 datafeed.LastBars 实现
type Counter interface {
	Len() int
}

type Datafeed struct {
	feed     Feed
	universe CacheInvalidator
	live     LiveInspector
	lastBars Counter
}

func NewDatafeed(feed Feed, universe CacheInvalidator) *Datafeed {
	return &Datafeed{feed: feed, universe: universe}
}

// WithLive 挂上实时订阅的状态查询；live 为 nil 表示没开推送
func (h *Datafeed) WithLive(live LiveInspector, lastBars Counter) *Datafeed {
	h.live = live
	h.lastBars = lastBars
	return h
}

func (h *Datafeed) Config(c *gin.Context) {
	common.Success(c, h.feed.OnReady())
}

type searchReq struct {
	Query    string `form:"query"`
	Exchange string `form:"exchange"`
	Type     string `form:"type"`
	Limit    int    `form:"limit" binding:"omitempty,min=1"`
}

func (h *Datafeed) Search(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindQuery(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request parameters"))
		return
	}
	items, err := h.feed.SearchSymbols(c.Request.Context(), req.Query, req.Exchange, req.Type)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	// 组件本身不分页，limit 只是给 UDF 风格的调用方截断用
	if req.Limit > 0 && len(items) > req.Limit {
		items = items[:req.Limit]
	}
	common.Success(c, items)
}

type symbolReq struct {
	Symbol string `form:"symbol" binding:"required"`
}

func (h *Datafeed) Symbol(c *gin.Context) {
	var req symbolReq
	if err := c.ShouldBindQuery(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "symbol is required"))
		return
	}
	info, err := h.feed.ResolveSymbol(c.Request.Context(), req.Symbol)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, info)
}

type historyReq struct {
	Symbol           string `form:"symbol" binding:"required"`
	Resolution       string `form:"resolution"`
	From             int64  `form:"from" binding:"min=0"`
	To               int64  `form:"to" binding:"required,gtfield=From"`
	CountBack        int    `form:"countback"`
	FirstDataRequest bool   `form:"firstDataRequest"`
}

type HistoryResp struct {
	Bars   []model.Bar `json:"bars"`
	NoData bool        `json:"noData"`
}

func (h *Datafeed) History(c *gin.Context) {
	var req historyReq
	if err := c.ShouldBindQuery(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "symbol, from and to are required and from must be before to"))
		return
	}
	if req.Resolution == "" {
		req.Resolution = "1D"
	}
	ctx := c.Request.Context()

	info, err := h.feed.ResolveSymbol(ctx, req.Symbol)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	bars, meta, err := h.feed.GetBars(ctx, info, req.Resolution, model.PeriodParams{
		From:             req.From,
		To:               req.To,
		CountBack:        req.CountBack,
		FirstDataRequest: req.FirstDataRequest,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if bars == nil {
		bars = []model.Bar{}
	}
	common.Success(c, HistoryResp{Bars: bars, NoData: meta.NoData})
}

func (h *Datafeed) InvalidateUniverse(c *gin.Context) {
	if err := h.universe.Invalidate(c.Request.Context()); err != nil {
		common.FailErr(c, err)
		return
	}
	logger.Info(c, "[universe] cache invalidated", zap.String("ip", c.ClientIP()))
	common.Success(c, nil)
}

type LiveChannel struct {
	Channel  string     `json:"channel"`
	Handlers int        `json:"handlers"`
	Bar      *model.Bar `json:"bar,omitempty"`
}

type LiveResp struct {
	Streaming bool          `json:"streaming"`
	Channels  []LiveChannel `json:"channels"`
	LastBars  int           `json:"lastBars"`
}

// Live 当前上游订阅的 channel、各自的当前 bar 和订阅者数
func (h *Datafeed) Live(c *gin.Context) {
	resp := LiveResp{Channels: []LiveChannel{}}
	if h.lastBars != nil {
		resp.LastBars = h.lastBars.Len()
	}
	if h.live != nil {
		resp.Streaming = true
		channels := h.live.Channels()
		sort.Strings(channels)
		for _, ch := range channels {
			bar, handlers, ok := h.live.Snapshot(ch)
			if !ok {
				continue
			}
			resp.Channels = append(resp.Channels, LiveChannel{Channel: ch, Handlers: handlers, Bar: bar})
		}
	}
	common.Success(c, resp)
}
