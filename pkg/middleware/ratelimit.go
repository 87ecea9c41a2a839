package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chartfeed.com/pkg/common"
	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/metrics"
	"chartfeed.com/pkg/ratelimit"
	"chartfeed.com/pkg/xerr"
)

// RateLimit 按 ip+route 限流
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 限流属于“可控拒绝”，不要打堆栈（压测会炸日志）
			metrics.RateLimitBlockTotal.WithLabelValues(route).Inc()
			logger.Warn(c, "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, http.StatusTooManyRequests, xerr.TooManyRequests, xerr.MapErrMsg(xerr.TooManyRequests))
			c.Abort()
			return
		}
		c.Next()
	}
}
