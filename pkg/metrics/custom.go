package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "datafeed"

var (
	// 上游 HTTP 请求耗时，status=HTTP 状态码或 "error"/"open"
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream API request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms ~ 20s
	}, []string{"provider", "status"})

	// result: applied / new_bar / not_trade / unknown_channel / malformed
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Streaming trade ticks by outcome.",
	}, []string{"result"})

	LiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_channels",
		Help:      "Upstream streaming channels currently subscribed.",
	})

	LiveHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_handlers",
		Help:      "Registered live bar handlers across all channels.",
	})

	// op: hit / miss / fetch_error / store_error
	UniverseCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "universe_cache_total",
		Help:      "Symbol universe cache lookups.",
	}, []string{"op"})

	RateLimitBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_block_total",
		Help:      "Total number of inbound rate limit blocks.",
	}, []string{"route"})

	CBState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_state",
		Help:      "Circuit breaker state (0/1).",
	}, []string{"name", "state"}) // state: closed/open/half_open

	SocketReconnectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "socket_reconnect_total",
		Help:      "Upstream streaming socket reconnects.",
	})
)
