package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestStore_AllowBurst(t *testing.T) {
	s := NewStore(1, 2, time.Minute)

	assert.True(t, s.Allow("1.1.1.1:/api/history"))
	assert.True(t, s.Allow("1.1.1.1:/api/history"))
	assert.False(t, s.Allow("1.1.1.1:/api/history"), "burst 用完应该被限流")
	assert.True(t, s.Allow("2.2.2.2:/api/history"), "不同 key 互不影响")
	assert.Equal(t, 2, s.Len())
}

func TestStore_Cleanup(t *testing.T) {
	s := NewStore(1, 1, time.Minute)
	s.Allow("a")
	s.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, s.Len())
}

func TestIsSuccessfulForBreaker(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"canceled", fmt.Errorf("get: %w", context.Canceled), true},
		{"bad request", fmt.Errorf("wrap: %w", statusErr(400)), true},
		{"too many", statusErr(429), false},
		{"server", statusErr(503), false},
		{"network", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSuccessfulForBreaker(tt.err))
		})
	}
}

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}, nil)
	cb := m.Get("CryptoCompare")
	require.Same(t, cb, m.Get("CryptoCompare"))

	fail := func() (struct{}, error) { return struct{}{}, statusErr(502) }
	_, _ = cb.Execute(fail)
	_, _ = cb.Execute(fail)

	_, err := cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
