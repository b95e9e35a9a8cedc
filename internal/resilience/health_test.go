package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/models"
)

type fakeStream struct {
	status   models.ConnectionStatus
	pending  bool
	attempts int
	err      error
	subs     int
}

func (f fakeStream) Status() models.ConnectionStatus { return f.status }
func (f fakeStream) ReconnectPending() bool          { return f.pending }
func (f fakeStream) Attempts() int                   { return f.attempts }
func (f fakeStream) LastError() error                { return f.err }
func (f fakeStream) Subscriptions() int              { return f.subs }

func TestStreamHealthCheck(t *testing.T) {
	testCases := []struct {
		name     string
		stream   fakeStream
		expected HealthStatus
		message  string
	}{
		{"connected", fakeStream{status: models.StatusConnected, subs: 2}, HealthStatusHealthy, "connected, 2 subscriptions"},
		{"connecting", fakeStream{status: models.StatusConnecting}, HealthStatusDegraded, "reconnecting (attempt 0)"},
		{"retry pending", fakeStream{status: models.StatusError, pending: true, attempts: 3}, HealthStatusDegraded, "reconnecting (attempt 3)"},
		{"gave up", fakeStream{status: models.StatusError, err: errors.New("dial refused")}, HealthStatusUnhealthy, "dial refused"},
		{"never started", fakeStream{status: models.StatusDisconnected}, HealthStatusUnhealthy, "disconnected"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			health := StreamHealthCheck(tc.stream)(context.Background())
			assert.Equal(t, tc.expected, health.Status)
			assert.Equal(t, tc.message, health.Message)
			assert.Equal(t, string(tc.stream.status), health.Details["status"])
		})
	}
}

func TestBreakerHealthCheck(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	cb := NewCircuitBreakerWithClock("order-api", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}, clk)
	check := BreakerHealthCheck(cb)

	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)
	health := check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
	assert.Contains(t, health.Message, "circuit open")
	assert.Equal(t, string(CircuitOpen), health.Details["state"])
}

func TestHealthMonitor_Check(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))

	t.Run("no components", func(t *testing.T) {
		report := NewHealthMonitor(clk, time.Second).Check(context.Background())
		assert.Equal(t, HealthStatusUnknown, report.Status)
		assert.Empty(t, report.Components)
	})

	t.Run("worst component wins", func(t *testing.T) {
		m := NewHealthMonitor(clk, time.Second)
		m.RegisterComponent("market-data", StreamHealthCheck(fakeStream{status: models.StatusConnected}))
		m.RegisterComponent("trades", StreamHealthCheck(fakeStream{status: models.StatusConnecting}))
		m.RegisterComponent("journal", DatabaseHealthCheck(clk, func(context.Context) error { return nil }))

		report := m.Check(context.Background())
		assert.Equal(t, HealthStatusDegraded, report.Status)
		require.Len(t, report.Components, 3)
		assert.Equal(t, "journal", report.Components[0].Name)
		assert.Equal(t, "market-data", report.Components[1].Name)
		assert.Equal(t, "trades", report.Components[2].Name)

		m.RegisterComponent("order-api", func(context.Context) ComponentHealth {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "down"}
		})
		assert.Equal(t, HealthStatusUnhealthy, m.Check(context.Background()).Status)

		last, ok := m.GetComponentHealth("order-api")
		require.True(t, ok)
		assert.Equal(t, "down", last.Message)
		assert.Equal(t, clk.Now(), last.LastCheck)
	})

	t.Run("panicking check", func(t *testing.T) {
		m := NewHealthMonitor(clk, time.Second)
		m.RegisterComponent("broken", func(context.Context) ComponentHealth { panic("boom") })

		report := m.Check(context.Background())
		require.Len(t, report.Components, 1)
		assert.Equal(t, HealthStatusUnhealthy, report.Status)
		assert.Equal(t, "broken", report.Components[0].Name)
		assert.Contains(t, report.Components[0].Message, "boom")
	})

	t.Run("database ping failure", func(t *testing.T) {
		health := DatabaseHealthCheck(clk, func(context.Context) error { return errors.New("locked") })(context.Background())
		assert.Equal(t, HealthStatusUnhealthy, health.Status)
		assert.Equal(t, "ping failed: locked", health.Message)
	})
}
