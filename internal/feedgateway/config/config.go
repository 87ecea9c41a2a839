package config

import (
	"time"

	"chartfeed.com/internal/datafeed/model"
	"chartfeed.com/internal/storage/influxsink"
	"chartfeed.com/pkg/trace"
)

// 总配置
type GatewayConfig struct {
	Name          string          `mapstructure:"name" yaml:"name"`
	LogLevel      string          `mapstructure:"log_level" yaml:"log_level"`
	LogFile       string          `mapstructure:"log_file" yaml:"log_file"`
	HTTP          HTTPConfig      `mapstructure:"http" yaml:"http"`
	Trace         trace.Config    `mapstructure:"trace" yaml:"trace"`
	CryptoCompare ProviderConfig  `mapstructure:"cryptocompare" yaml:"cryptocompare"`
	DefinedFi     ProviderConfig  `mapstructure:"definedfi" yaml:"definedfi"`
	Datafeed      DatafeedConfig  `mapstructure:"datafeed" yaml:"datafeed"`
	Universe      UniverseConfig  `mapstructure:"universe" yaml:"universe"`
	Streaming     StreamingConfig `mapstructure:"streaming" yaml:"streaming"`
	Redis         RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Influx        InfluxConfig    `mapstructure:"influx" yaml:"influx"`
	Nats          NatsConfig      `mapstructure:"nats" yaml:"nats"`
	Breaker       BreakerConfig   `mapstructure:"breaker" yaml:"breaker"`
}

type HTTPConfig struct {
	Addr            string   `mapstructure:"addr" yaml:"addr"`
	RatePerSec      float64  `mapstructure:"rate_per_sec" yaml:"rate_per_sec"` // 每 ip+route
	Burst           int      `mapstructure:"burst" yaml:"burst"`
	AllowedOrigins  []string `mapstructure:"allowed_origins" yaml:"allowed_origins"` // 空 = 全部放行
	ShutdownSeconds int      `mapstructure:"shutdown_seconds" yaml:"shutdown_seconds"`
}

// ProviderConfig 一个上游 API；api_key 不在这里读，走 viper.GetString 每次请求时取
type ProviderConfig struct {
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	AuthScheme     string  `mapstructure:"auth_scheme" yaml:"auth_scheme"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // 0 = transport 默认
	RatePerSec     float64 `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Burst          int     `mapstructure:"burst" yaml:"burst"`
}

func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type DatafeedConfig struct {
	SupportedResolutions []string         `mapstructure:"supported_resolutions" yaml:"supported_resolutions"`
	Exchanges            []model.Exchange `mapstructure:"exchanges" yaml:"exchanges"`
	HistoryLimit         int              `mapstructure:"history_limit" yaml:"history_limit"`
}

type UniverseConfig struct {
	Source     string `mapstructure:"source" yaml:"source"` // cryptocompare | definedfi
	TTLSeconds int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	Redis      bool   `mapstructure:"redis" yaml:"redis"` // 多实例共享缓存
	TopTokens  int    `mapstructure:"top_tokens" yaml:"top_tokens"`
}

func (u UniverseConfig) TTL() time.Duration {
	return time.Duration(u.TTLSeconds) * time.Second
}

type StreamingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	URL         string `mapstructure:"url" yaml:"url"`
	DayBoundary string `mapstructure:"day_boundary" yaml:"day_boundary"` // utc | local | IANA 时区
	Reconnect   bool   `mapstructure:"reconnect" yaml:"reconnect"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type InfluxConfig struct {
	Enabled              bool   `mapstructure:"enabled" yaml:"enabled"`
	URL                  string `mapstructure:"url" yaml:"url"`
	Token                string `mapstructure:"token" yaml:"token"`
	Org                  string `mapstructure:"org" yaml:"org"`
	Bucket               string `mapstructure:"bucket" yaml:"bucket"`
	BatchSize            uint   `mapstructure:"batch_size" yaml:"batch_size"`
	FlushIntervalSeconds int    `mapstructure:"flush_interval_seconds" yaml:"flush_interval_seconds"`
	UseGzip              bool   `mapstructure:"use_gzip" yaml:"use_gzip"`
}

func (c InfluxConfig) Sink() influxsink.Config {
	return influxsink.Config{
		URL:           c.URL,
		Token:         c.Token,
		Org:           c.Org,
		Bucket:        c.Bucket,
		BatchSize:     c.BatchSize,
		FlushInterval: time.Duration(c.FlushIntervalSeconds) * time.Second,
		UseGzip:       c.UseGzip,
	}
}

type NatsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

type BreakerConfig struct {
	Enabled                 bool    `mapstructure:"enabled" yaml:"enabled"`
	MaxRequests             uint32  `mapstructure:"max_requests" yaml:"max_requests"`
	IntervalSeconds         int     `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	TimeoutSeconds          int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	TripConsecutiveFailures uint32  `mapstructure:"trip_consecutive_failures" yaml:"trip_consecutive_failures"`
	TripFailureRate         float64 `mapstructure:"trip_failure_rate" yaml:"trip_failure_rate"`
	TripMinRequests         uint32  `mapstructure:"trip_min_requests" yaml:"trip_min_requests"`
}
