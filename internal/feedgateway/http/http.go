package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"chartfeed.com/internal/feedgateway/config"
	"chartfeed.com/internal/feedgateway/handler"
	"chartfeed.com/internal/feedgateway/http/router"
	"chartfeed.com/pkg/middleware"
	"chartfeed.com/pkg/ratelimit"
)

type Deps struct {
	Datafeed *handler.Datafeed
	WS       http.HandlerFunc
}

func NewRouter(ctx context.Context, service string, cfg config.HTTPConfig, deps Deps) *http.Server {
	// 限流：每 ip+route
	rps, burst := cfg.RatePerSec, cfg.Burst
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	store := ratelimit.NewStore(rate.Limit(rps), burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	// 监控，顺带挂 /metrics
	p := ginprom.NewPrometheus("datafeed_gateway")
	p.Use(r)
	r.Use(
		otelgin.Middleware(service),
		middleware.ReqId(),
		corsMiddleware(cfg.AllowedOrigins),
		middleware.Recover(),
	)

	api := r.Group("/api", middleware.RateLimit(store))
	router.Datafeed(api, deps.Datafeed)
	if deps.WS != nil {
		r.GET("/ws", gin.WrapF(deps.WS))
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-Id"},
		ExposeHeaders: []string{"X-Request-Id"},
		MaxAge:        12 * time.Hour,
	})
}
