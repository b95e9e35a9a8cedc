package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stofina-realtime/internal/clock"
)

var errBackend = errors.New("backend unavailable")

func failing(context.Context) error { return errBackend }
func passing(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	cb := NewCircuitBreakerWithClock("orders", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}, clk)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), failing), errBackend)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := cb.Stats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.InDelta(t, 100.0, stats.FailureRate(), 0.001)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	cb := NewCircuitBreakerWithClock("orders", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
	}, clk)

	require.Error(t, cb.Execute(context.Background(), failing))
	require.Equal(t, CircuitOpen, cb.State())

	clk.Advance(10 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), passing))
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), passing))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	cb := NewCircuitBreakerWithClock("orders", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          5 * time.Second,
	}, clk)

	require.Error(t, cb.Execute(context.Background(), failing))
	clk.Advance(5 * time.Second)
	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	errRejected := errors.New("insufficient balance")
	cb := NewCircuitBreaker("orders", CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errRejected)
		},
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return errRejected }), errRejected)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker("market", DefaultCircuitBreakerConfig())

	v, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "market", cb.Name())
}
