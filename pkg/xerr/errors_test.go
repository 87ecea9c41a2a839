package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type upstreamErr struct{}

func (upstreamErr) Error() string { return "CryptoCompare request error: eof" }
func (upstreamErr) ErrCode() int  { return UpstreamError }

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, OK},
		{"plain", errors.New("boom"), ServerCommonError},
		{"code error", New(RecordNotFound, "cannot resolve symbol"), RecordNotFound},
		{"wrapped code error", fmt.Errorf("getBars: %w", NewErrCode(RequestParamsError)), RequestParamsError},
		{"foreign ErrCode", fmt.Errorf("x: %w", upstreamErr{}), UpstreamError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, UpstreamError, "history unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, UpstreamError, CodeOf(err))
	assert.Contains(t, err.Error(), "history unavailable")
	assert.Contains(t, err.Error(), "dial tcp: refused")
	assert.Nil(t, Wrap(nil, UpstreamError, "x"))
}
