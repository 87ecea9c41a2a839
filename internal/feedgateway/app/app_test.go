package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwConfig "chartfeed.com/internal/feedgateway/config"
)

func TestObserverOptions_NoBusWithoutNats(t *testing.T) {
	app := &App{ctx: context.Background()}

	assert.Empty(t, app.observerOptions())
	assert.Nil(t, app.broker, "没开 nats 不建总线")
	assert.Nil(t, app.sink)
}

func TestObserverOptions_InfluxOnly(t *testing.T) {
	app := &App{
		ctx: context.Background(),
		cfg: gwConfig.GatewayConfig{Influx: gwConfig.InfluxConfig{
			Enabled: true,
			URL:     "http://127.0.0.1:1",
			Org:     "chartfeed",
			Bucket:  "bars",
		}},
	}

	opts := app.observerOptions()
	assert.Len(t, opts, 1)
	require.NotNil(t, app.sink)
	assert.Nil(t, app.broker)
	app.sink.Close()
}

func TestAllowOrigin(t *testing.T) {
	assert.Nil(t, allowOrigin(nil))
	assert.Nil(t, allowOrigin([]string{"*"}))

	check := allowOrigin([]string{"https://charts.example.com"})
	require.NotNil(t, check)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "非浏览器客户端不带 Origin")
	req.Header.Set("Origin", "https://charts.example.com")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}
