package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chartfeed.com/pkg/logger"
	"chartfeed.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr 按错误码映射 HTTP 状态：4xx 原样回 message，5xx 记日志后回固定文案
func FailErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	status := httpStatusOf(code)

	msg := err.Error()
	var ce *xerr.CodeError
	if errors.As(err, &ce) && ce.Msg != "" {
		msg = ce.Msg
	}
	if status >= http.StatusInternalServerError {
		logger.Warn(c, "http error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", code),
			zap.Error(err),
		)
		// 上游错误带 provider 前缀，可以给前端看；其他内部错误不透出
		if code != xerr.UpstreamError {
			msg = xerr.MapErrMsg(code)
		}
	}
	Fail(c, status, code, msg)
}

func httpStatusOf(code int) int {
	switch code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.UpstreamError:
		return http.StatusBadGateway
	case xerr.TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
