// Package datafeed 实现图表组件的 datafeed 约定：configuration / search / resolve /
// history / subscribe / unsubscribe。所有状态（last bar 缓存、实时订阅表）都挂在
// Datafeed 实例上，多实例互不影响。
package datafeed

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/internal/datafeed/symbol"
	"chartfeed.com/internal/streaming"
	"chartfeed.com/pkg/logger"
)

const (
	DefaultHistoryLimit = 2000
	histodayPath        = "data/histoday"
)

var (
	DefaultResolutions = []string{"1D", "1W", "1M"}
	DefaultExchanges   = []model.Exchange{
		{Value: "Bitfinex", Name: "Bitfinex", Desc: "Bitfinex"},
		{Value: "Kraken", Name: "Kraken", Desc: "Kraken bitcoin exchange"},
	}

	ErrNoLiveFeed = errors.New("live feed not configured")
)

// HistoryClient 由 apiclient.Client 实现
type HistoryClient interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

// SymbolSource 由 universe.Universe 实现
type SymbolSource interface {
	Symbols(ctx context.Context) ([]model.SymbolItem, error)
	Find(ctx context.Context, fullName string) (model.SymbolItem, bool, error)
}

// LiveRegistry 由 streaming.Registry 实现
type LiveRegistry interface {
	Subscribe(channel, resolution string, h streaming.Handler, seed *model.Bar)
	Unsubscribe(id string) bool
}

type Options struct {
	Exchanges            []model.Exchange
	SupportedResolutions []string
	HistoryLimit         int
}

func (o *Options) normalize() {
	if len(o.Exchanges) == 0 {
		o.Exchanges = DefaultExchanges
	}
	if len(o.SupportedResolutions) == 0 {
		o.SupportedResolutions = DefaultResolutions
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
}

type Datafeed struct {
	opts     Options
	symbols  SymbolSource
	history  HistoryClient
	live     LiveRegistry
	lastBars *LastBars
}

// New live 可以为 nil（只提供历史数据）
func New(opts Options, symbols SymbolSource, history HistoryClient, live LiveRegistry) *Datafeed {
	opts.normalize()
	return &Datafeed{
		opts:     opts,
		symbols:  symbols,
		history:  history,
		live:     live,
		lastBars: NewLastBars(),
	}
}

func (d *Datafeed) LastBars() *LastBars { return d.lastBars }

// OnReady 静态 configuration，永远成功
func (d *Datafeed) OnReady() model.Configuration {
	logger.Debug(context.Background(), "[onReady]: Method call")
	return model.Configuration{
		SupportedResolutions: d.opts.SupportedResolutions,
		Exchanges:            d.opts.Exchanges,
		SymbolsTypes:         []model.SymbolType{{Name: "crypto", Value: "crypto"}},
	}
}

// SearchSymbols full_name 不区分大小写子串匹配；exchange 非空时精确匹配交易所。
// symbolType 不参与过滤（universe 里全是 crypto）。
func (d *Datafeed) SearchSymbols(ctx context.Context, userInput, exchange, symbolType string) ([]model.SymbolItem, error) {
	logger.Debug(ctx, "[searchSymbols]: Method call",
		zap.String("input", userInput), zap.String("exchange", exchange), zap.String("type", symbolType))

	all, err := d.symbols.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(userInput)
	out := make([]model.SymbolItem, 0, 16)
	for _, it := range all {
		if exchange != "" && it.Exchange != exchange {
			continue
		}
		if !strings.Contains(strings.ToLower(it.FullName), needle) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// ResolveSymbol full_name 精确匹配；找不到返回 *ResolutionError
func (d *Datafeed) ResolveSymbol(ctx context.Context, name string) (model.SymbolInfo, error) {
	logger.Debug(ctx, "[resolveSymbol]: Method call", zap.String("symbol", name))

	it, ok, err := d.symbols.Find(ctx, name)
	if err != nil {
		return model.SymbolInfo{}, err
	}
	if !ok {
		logger.Info(ctx, "[resolveSymbol]: Cannot resolve symbol", zap.String("symbol", name))
		return model.SymbolInfo{}, &ResolutionError{Name: name}
	}
	return model.SymbolInfo{
		Ticker:               it.FullName,
		Name:                 it.Symbol,
		FullName:             it.FullName,
		Description:          it.Description,
		Type:                 it.Type,
		Session:              "24x7",
		Timezone:             "Etc/UTC",
		Exchange:             it.Exchange,
		ListedExchange:       it.Exchange,
		Minmov:               1,
		Pricescale:           100,
		HasIntraday:          false,
		VisiblePlotsSet:      "ohlc",
		HasWeeklyAndMonthly:  false,
		SupportedResolutions: d.opts.SupportedResolutions,
		VolumePrecision:      2,
		DataStatus:           "streaming",
	}, nil
}

type histodayResponse struct {
	Response string          `json:"Response"`
	Message  string          `json:"Message"`
	Data     json.RawMessage `json:"Data"`
}

type histodayRow struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	VolumeFrom float64 `json:"volumefrom"`
}

// rows 兼容 v1（Data 是数组）和 v2（Data.Data 是数组）两种形态
func (r *histodayResponse) rows() []histodayRow {
	if len(r.Data) == 0 {
		return nil
	}
	var list []histodayRow
	if err := json.Unmarshal(r.Data, &list); err == nil {
		return list
	}
	var nested struct {
		Data []histodayRow `json:"Data"`
	}
	if err := json.Unmarshal(r.Data, &nested); err == nil {
		return nested.Data
	}
	return nil
}

// GetBars 一次 histoday 请求，保留 From <= time < To 的行，时间转成毫秒。
// 上游 Response=Error 或没有行 -> NoData（不是错误）。
func (d *Datafeed) GetBars(ctx context.Context, info model.SymbolInfo, resolution string, p model.PeriodParams) ([]model.Bar, model.HistoryMeta, error) {
	logger.Debug(ctx, "[getBars]: Method call",
		zap.String("symbol", info.FullName), zap.String("resolution", resolution),
		zap.Int64("from", p.From), zap.Int64("to", p.To))

	parts, err := symbol.MustParse(info.FullName)
	if err != nil {
		return nil, model.HistoryMeta{}, err
	}

	q := url.Values{}
	q.Set("e", parts.Exchange)
	q.Set("fsym", parts.Base)
	q.Set("tsym", parts.Quote)
	q.Set("toTs", strconv.FormatInt(p.To, 10))
	q.Set("limit", strconv.Itoa(d.opts.HistoryLimit))

	var resp histodayResponse
	if err := d.history.Get(ctx, histodayPath, q, &resp); err != nil {
		logger.Warn(ctx, "[getBars]: Get error", zap.String("symbol", info.FullName), zap.Error(err))
		return nil, model.HistoryMeta{}, err
	}

	rows := resp.rows()
	if resp.Response == "Error" || len(rows) == 0 {
		return []model.Bar{}, model.HistoryMeta{NoData: true}, nil
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, r := range rows {
		if r.Time < p.From || r.Time >= p.To {
			continue
		}
		bars = append(bars, model.Bar{
			Time:   r.Time * 1000,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.VolumeFrom,
		})
	}
	if p.FirstDataRequest && len(bars) > 0 {
		d.lastBars.Set(info.FullName, bars[len(bars)-1])
	}
	logger.Debug(ctx, "[getBars]: returned bars", zap.String("symbol", info.FullName), zap.Int("count", len(bars)))
	return bars, model.HistoryMeta{NoData: false}, nil
}

// SubscribeBars 订阅实时日线；用 last bar 缓存做种子，让实时 bar 接着历史最后一根走
func (d *Datafeed) SubscribeBars(info model.SymbolInfo, resolution string, onBar func(model.Bar), subscriberUID string, onReset func()) error {
	if d.live == nil {
		return ErrNoLiveFeed
	}
	parts, err := symbol.MustParse(info.FullName)
	if err != nil {
		return err
	}

	var seed *model.Bar
	if b, ok := d.lastBars.Get(info.FullName); ok {
		seed = &b
	}
	channel := parts.Channel()
	d.live.Subscribe(channel, resolution, streaming.Handler{ID: subscriberUID, OnBar: onBar, OnReset: onReset}, seed)
	logger.Debug(context.Background(), "[subscribeBars]: Method call",
		zap.String("channel", channel), zap.String("subscriber", subscriberUID))
	return nil
}

func (d *Datafeed) UnsubscribeBars(subscriberUID string) {
	if d.live == nil {
		return
	}
	if !d.live.Unsubscribe(subscriberUID) {
		logger.Debug(context.Background(), "[unsubscribeBars]: unknown subscriber", zap.String("subscriber", subscriberUID))
	}
}
