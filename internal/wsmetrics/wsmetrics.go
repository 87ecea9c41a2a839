package wsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "datafeed_ws"

var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conns",
		Help:      "Active browser websocket connections",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conn_open_total",
		Help:      "Total websocket connections opened",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conn_close_total",
		Help:      "Total websocket connections closed, partitioned by reason",
	}, []string{"reason"}) // timeout/closed/error/shutdown

	SubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sub_ops_total",
		Help:      "Total subscription operations",
	}, []string{"op"}) // subscribe/unsubscribe/rejected

	MsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "msgs_out_total",
		Help:      "Total websocket messages sent out (logical messages, not frames)",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_out_total",
		Help:      "Total websocket bytes sent out",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "write_errors_total",
		Help:      "Total websocket write errors",
	})
	// why: superseded（latest-only 被新值覆盖）/ closed
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_total",
		Help:      "Total dropped messages",
	}, []string{"why"})

	PingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ping_errors_total",
		Help:      "Total ping send errors",
	})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "write_duration_seconds",
		Help:      "Duration of a websocket write batch",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size",
		Help:      "Number of messages per flush/batch",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})
)

func OnOpen() {
	Conns.Inc()
	ConnOpenTotal.Inc()
}

func OnClose(reason string) {
	Conns.Dec()
	ConnCloseTotal.WithLabelValues(reason).Inc()
}

func ObserveWrite(batchN int, bytes int, dur time.Duration, err error) {
	if batchN > 0 {
		MsgsOutTotal.Add(float64(batchN))
		BatchSize.Observe(float64(batchN))
	}
	if bytes > 0 {
		BytesOutTotal.Add(float64(bytes))
	}
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
	}
}
