package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	TooManyRequests    = 429
	ServerCommonError  = 500
	UpstreamError      = 502
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`

	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

// ErrCode 让 CodeError 和其它自带错误码的类型走同一条判断
func (e *CodeError) ErrCode() int { return e.Code }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给底层错误挂上错误码；err 为 nil 时返回 nil
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// CodeOf 沿着错误链找第一个带错误码的错误，找不到按 500 处理
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var coded interface{ ErrCode() int }
	if errors.As(err, &coded) {
		return coded.ErrCode()
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case OK:
		return "success"
	case RequestParamsError:
		return "invalid request parameters"
	case RecordNotFound:
		return "record not found"
	case TooManyRequests:
		return "too many requests"
	case UpstreamError:
		return "upstream unavailable"
	case ServerCommonError:
		return "internal error"
	default:
		return "unknown error"
	}
}
