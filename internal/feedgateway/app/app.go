package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"chartfeed.com/internal/bus"
	"chartfeed.com/internal/datafeed"
	"chartfeed.com/internal/datafeed/apiclient"
	"chartfeed.com/internal/datafeed/universe"
	gwConfig "chartfeed.com/internal/feedgateway/config"
	"chartfeed.com/internal/feedgateway/handler"
	ghttp "chartfeed.com/internal/feedgateway/http"
	"chartfeed.com/internal/feedgateway/ws"
	"chartfeed.com/internal/storage/influxsink"
	"chartfeed.com/internal/streaming"
	vipConfig "chartfeed.com/pkg/config"
	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/ratelimit"
	"chartfeed.com/pkg/safe"
	"chartfeed.com/pkg/trace"
	"chartfeed.com/pkg/xredis"
)

const (
	defaultCryptoCompareURL = "https://min-api.cryptocompare.com"
	defaultDefinedURL       = "https://graph.defined.fi/graphql"
)

type App struct {
	ctx context.Context
	cfg gwConfig.GatewayConfig
	v   *viper.Viper

	redis         *redis.Client
	broker        bus.Broker
	sink          *influxsink.Sink
	traceShutDown func(context.Context) error

	universe *universe.Universe
	live     *streaming.Registry
	feed     *datafeed.Datafeed
	wsServer *ws.Server
}

func New(configName string) (*App, error) {
	if configName == "" {
		configName = "datafeed-gateway"
	}
	var cfg = &gwConfig.GatewayConfig{}
	// 热更新只作用于日志级别和 api key（每次请求走 viper 读），其余配置重启生效
	v, err := vipConfig.LoadAndWatch(configName, cfg, func() {
		if err := logger.SetLevel(cfg.LogLevel); err != nil {
			logger.Warn(context.Background(), "[config] bad log_level", zap.String("log_level", cfg.LogLevel), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = configName
	}
	return &App{cfg: *cfg, v: v}, nil
}

func (app *App) StartService(ctx context.Context) func() {
	app.ctx = ctx
	logger.InitWithFile(app.cfg.Name, app.cfg.LogLevel, app.cfg.LogFile)

	app.startTrace()
	breakers := app.startBreakers()

	cc := app.newProvider("CryptoCompare", app.cfg.CryptoCompare, defaultCryptoCompareURL, "Apikey", "cryptocompare.api_key", breakers)
	app.startUniverse(cc, breakers)
	live := app.startStreaming()
	app.live = live

	var liveReg datafeed.LiveRegistry
	if live != nil {
		liveReg = live
	}
	app.feed = datafeed.New(datafeed.Options{
		Exchanges:            app.cfg.Datafeed.Exchanges,
		SupportedResolutions: app.cfg.Datafeed.SupportedResolutions,
		HistoryLimit:         app.cfg.Datafeed.HistoryLimit,
	}, app.universe, cc, liveReg)
	app.wsServer = ws.NewServer(ctx, app.feed, allowOrigin(app.cfg.HTTP.AllowedOrigins))

	logger.Info(ctx, "[app] datafeed ready",
		zap.String("universe", app.cfg.Universe.Source),
		zap.Bool("streaming", live != nil),
		zap.Bool("influx", app.sink != nil),
	)

	return func() {
		if app.sink != nil {
			app.sink.Close()
		}
		if app.broker != nil {
			_ = app.broker.Close()
		}
		if app.redis != nil {
			_ = app.redis.Close()
		}
		if app.traceShutDown != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = app.traceShutDown(sctx)
			cancel()
		}
		logger.Sync()
	}
}

func (app *App) StartHttp() *http.Server {
	h := handler.NewDatafeed(app.feed, app.universe)
	if app.live != nil {
		h.WithLive(app.live, app.feed.LastBars())
	} else {
		h.WithLive(nil, app.feed.LastBars())
	}
	return ghttp.NewRouter(app.ctx, app.cfg.Name, app.cfg.HTTP, ghttp.Deps{
		Datafeed: h,
		WS:       app.wsServer.ServeWS,
	})
}

func (app *App) ShutdownTimeout() time.Duration {
	if app.cfg.HTTP.ShutdownSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(app.cfg.HTTP.ShutdownSeconds) * time.Second
}

func (app *App) startTrace() {
	shutdown, err := trace.InitTrace(app.cfg.Name, app.cfg.Trace)
	if err != nil {
		log.Fatal("init tracer error: ", err)
	}
	app.traceShutDown = shutdown
}

func (app *App) startBreakers() *ratelimit.Manager {
	b := app.cfg.Breaker
	if !b.Enabled {
		return nil
	}
	return ratelimit.NewManager(ratelimit.Rule{
		MaxRequests:             b.MaxRequests,
		Interval:                time.Duration(b.IntervalSeconds) * time.Second,
		Timeout:                 time.Duration(b.TimeoutSeconds) * time.Second,
		TripConsecutiveFailures: b.TripConsecutiveFailures,
		TripFailureRate:         b.TripFailureRate,
		TripMinRequests:         b.TripMinRequests,
	}, nil)
}

// newProvider key 走 viper，每次请求时读，改 env / 配置文件不用重启
func (app *App) newProvider(name string, pc gwConfig.ProviderConfig, defaultURL, defaultScheme, keyPath string, breakers *ratelimit.Manager) *apiclient.Client {
	base := pc.BaseURL
	if base == "" {
		base = defaultURL
	}
	scheme := pc.AuthScheme
	if scheme == "" {
		scheme = defaultScheme
	}
	var opts []apiclient.Option
	if breakers != nil {
		opts = append(opts, apiclient.WithBreaker(breakers.Get(name)))
	}
	return apiclient.New(apiclient.Config{
		Name:       name,
		BaseURL:    base,
		AuthScheme: scheme,
		Timeout:    pc.Timeout(),
		RatePerSec: pc.RatePerSec,
		Burst:      pc.Burst,
	}, func() string { return app.v.GetString(keyPath) }, opts...)
}

func (app *App) startUniverse(cc *apiclient.Client, breakers *ratelimit.Manager) {
	exchanges := app.cfg.Datafeed.Exchanges
	if len(exchanges) == 0 {
		exchanges = datafeed.DefaultExchanges
	}
	names := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		names = append(names, ex.Value)
	}

	var src universe.Source
	switch app.cfg.Universe.Source {
	case "", "cryptocompare":
		src = universe.NewCryptoCompareSource(cc, names)
	case "definedfi":
		// Defined.fi 的 Authorization 是裸 key
		dc := app.newProvider("DefinedFi", app.cfg.DefinedFi, defaultDefinedURL, "", "definedfi.api_key", breakers)
		src = universe.NewDefinedSource(dc, app.cfg.Universe.TopTokens, nil)
	default:
		panic(fmt.Sprintf("unknown universe source %q", app.cfg.Universe.Source))
	}

	var (
		store universe.Store
		opts  []universe.Option
	)
	if app.cfg.Universe.Redis {
		rdb := app.redisClient()
		store = universe.NewRedisStore(rdb)
		opts = append(opts, universe.WithLocker(xredis.NewLocker(rdb)))
	}
	app.universe = universe.New(src, store, app.cfg.Universe.TTL(), opts...)
}

func (app *App) redisClient() *redis.Client {
	if app.redis == nil {
		rdb, err := xredis.NewRedis(app.ctx, xredis.Config{
			Addr:     app.cfg.Redis.Addr,
			Password: app.cfg.Redis.Password,
			DB:       app.cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		app.redis = rdb
	}
	return app.redis
}

// startStreaming 关闭时返回 nil，datafeed 只提供历史数据
func (app *App) startStreaming() *streaming.Registry {
	sc := app.cfg.Streaming
	if !sc.Enabled {
		return nil
	}
	boundary, err := streaming.ParseDayBoundary(sc.DayBoundary)
	if err != nil {
		log.Fatalf("streaming.day_boundary: %v", err)
	}

	st := streaming.NewStreamer(sc.URL)
	st.Reconnect = sc.Reconnect
	reg := streaming.NewRegistry(st, boundary, app.observerOptions()...)
	st.OnMessage = reg.HandleMessage
	st.OnReconnect = reg.ResetAll

	safe.GoCtx(app.ctx, func(ctx context.Context) {
		if err := st.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "[socket] streamer stopped", zap.Error(err))
		}
	})
	return reg
}

// observerOptions 实时 bar 的下游：nats 只在开启时挂，没有外部消费者就不发
func (app *App) observerOptions() []streaming.RegistryOption {
	var opts []streaming.RegistryOption
	if app.cfg.Nats.Enabled {
		opts = append(opts, streaming.WithObserver(bus.NewObserver(app.ctx, app.startBroker())))
	}
	if app.cfg.Influx.Enabled {
		app.sink = influxsink.New(app.cfg.Influx.Sink())
		opts = append(opts, streaming.WithObserver(app.sink))
	}
	return opts
}

func (app *App) startBroker() bus.Broker {
	b, err := bus.NewNatsBroker(app.cfg.Nats.URL)
	if err != nil {
		log.Fatalf("connect nats: %v", err)
	}
	app.broker = b
	return b
}

func allowOrigin(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || slices.Contains(origins, o)
	}
}
