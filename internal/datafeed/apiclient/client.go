// Package apiclient 对单个上游行情 API 发一次请求并解码 JSON。
// 不重试、不缓存；失败原样包成 RequestError 交给调用方。
package apiclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/metrics"
)

// KeyFunc 每次请求时取 API key（配置热更新 / 环境变量改动立即生效）
type KeyFunc func() string

// StaticKey 固定 key，测试用
func StaticKey(k string) KeyFunc { return func() string { return k } }

type Config struct {
	Name       string        // provider 名，用在错误前缀与指标上，例如 "CryptoCompare"
	BaseURL    string        // https://min-api.cryptocompare.com
	AuthScheme string        // "Apikey"；空表示 Authorization 只放裸 key（Defined.fi）
	Timeout    time.Duration // 0 = 不额外设超时，沿用 transport 默认
	RatePerSec float64       // 出站限速，<=0 不限
	Burst      int
}

type Client struct {
	cfg     Config
	key     KeyFunc
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	tracer  trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker 可选熔断；默认不启用
func WithBreaker(cb *gobreaker.CircuitBreaker[struct{}]) Option {
	return func(c *Client) { c.breaker = cb }
}

func New(cfg Config, key KeyFunc, opts ...Option) *Client {
	if key == nil {
		key = StaticKey("")
	}
	c := &Client{
		cfg:    cfg,
		key:    key,
		http:   &http.Client{Timeout: cfg.Timeout},
		tracer: otel.Tracer("chartfeed.com/apiclient"),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return c.cfg.Name }

// Get 发 GET {base}/{path}?{query}，把响应体解到 out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Query 发 POST {base}，body = {"query": ..., "variables": ...}（GraphQL）
func (c *Client) Query(ctx context.Context, gql string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: gql, Variables: vars})
	if err != nil {
		return c.fail(err)
	}
	return c.do(ctx, http.MethodPost, c.cfg.BaseURL, body, out)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	ctx, span := c.tracer.Start(ctx, c.cfg.Name+" "+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	status := "error"
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(c.cfg.Name, status).Observe(time.Since(start).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			return c.fail(err)
		}
	}

	call := func() (struct{}, error) {
		code, err := c.roundTrip(ctx, method, rawURL, body, out)
		if code > 0 {
			status = strconv.Itoa(code)
		}
		return struct{}{}, err
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(call)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			status = "open"
		}
	} else {
		_, err = call()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug(ctx, "upstream request failed",
			zap.String("provider", c.cfg.Name),
			zap.String("method", method),
			zap.Error(err),
		)
		return c.fail(err)
	}
	span.SetAttributes(attribute.String("http.status", status))
	return nil
}

// roundTrip 返回 HTTP 状态码（拿不到时为 0）
func (c *Client) roundTrip(ctx context.Context, method, rawURL string, body []byte, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth := c.authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: snippet(raw)}
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.Unmarshal(raw, out)
}

func (c *Client) authorization() string {
	key := c.key()
	if key == "" {
		return ""
	}
	if c.cfg.AuthScheme == "" {
		return key
	}
	return c.cfg.AuthScheme + " " + key
}

func (c *Client) fail(err error) error {
	return &RequestError{Provider: c.cfg.Name, Err: err}
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
