// Package influxsink 把实时日线异步写进 InfluxDB（可选，influx.enabled 打开）
package influxsink

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/safe"
)

const measurement = "daily_bar"

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// 写入优化项
	BatchSize     uint
	FlushInterval time.Duration
	UseGzip       bool
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}

// Sink 实现 streaming.BarObserver
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// 必须消费 Errors()，否则异步写入出错会把写协程卡住
	errs := w.Errors()
	safe.Go(func() {
		for err := range errs {
			logger.Warn(context.Background(), "[influx] write error", zap.Error(err))
		}
	})

	logger.Info(context.Background(), "[influx] sink ready", zap.Stringer("config", cfg))
	return &Sink{client: c, write: w}
}

// Observe 每根 bar 写一个点；同一根 bar 多次更新时间戳相同，后写的覆盖前面的
func (s *Sink) Observe(channel string, bar model.Bar) {
	p, ok := pointFor(channel, bar)
	if !ok {
		return
	}
	s.write.WritePoint(p)
}

// Close 会 flush buffer
func (s *Sink) Close() {
	s.client.Close()
}

func pointFor(channel string, bar model.Bar) (*write.Point, bool) {
	parts := strings.Split(channel, "~")
	if len(parts) != 4 {
		return nil, false
	}
	// tag 基数 = 订阅的交易对数量，可控
	tags := map[string]string{
		"exchange": parts[1],
		"base":     parts[2],
		"quote":    parts[3],
	}
	fields := map[string]interface{}{
		"o": bar.Open,
		"h": bar.High,
		"l": bar.Low,
		"c": bar.Close,
		"v": bar.Volume,
	}
	return write.NewPoint(measurement, tags, fields, time.UnixMilli(bar.Time)), true
}
