package apiclient

import (
	"fmt"

	"chartfeed.com/pkg/xerr"
)

// RequestError：传输 / 状态码 / 解码失败，统一带 "<Provider> request error: " 前缀
type RequestError struct {
	Provider string
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request error: %v", e.Provider, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) ErrCode() int { return xerr.UpstreamError }

// StatusError：上游返回了非 2xx
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }
