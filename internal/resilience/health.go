package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/models"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the outcome of one round of checks.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentHealth `json:"components"`
}

// HealthMonitor runs registered component checks on demand.
type HealthMonitor struct {
	mu         sync.RWMutex
	clock      clock.Clock
	timeout    time.Duration
	components map[string]HealthCheck
	last       map[string]ComponentHealth
}

// NewHealthMonitor creates a monitor whose checks share a per-round timeout.
func NewHealthMonitor(clk clock.Clock, timeout time.Duration) *HealthMonitor {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthMonitor{
		clock:      clk,
		timeout:    timeout,
		components: make(map[string]HealthCheck),
		last:       make(map[string]ComponentHealth),
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Check runs every registered check concurrently. A panicking check reports the
// component as unhealthy instead of taking the caller down.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	components := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		components[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(components))
	for name, check := range components {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			results <- m.run(ctx, n, c)
		}(name, check)
	}
	wg.Wait()
	close(results)

	report := SystemHealth{Status: HealthStatusHealthy, CheckedAt: m.clock.Now()}
	if len(components) == 0 {
		report.Status = HealthStatusUnknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for health := range results {
		m.last[health.Name] = health
		report.Components = append(report.Components, health)
		switch health.Status {
		case HealthStatusUnhealthy:
			report.Status = HealthStatusUnhealthy
		case HealthStatusDegraded, HealthStatusUnknown:
			if report.Status == HealthStatusHealthy {
				report.Status = HealthStatusDegraded
			}
		}
	}
	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})
	return report
}

func (m *HealthMonitor) run(ctx context.Context, name string, check HealthCheck) (health ComponentHealth) {
	start := m.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			health = ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("panic recovered: %v", r),
			}
		}
		health.Name = name
		health.LastCheck = m.clock.Now()
		if health.Latency == 0 {
			health.Latency = health.LastCheck.Sub(start)
		}
	}()
	return check(ctx)
}

// GetComponentHealth returns the last result recorded for a component.
func (m *HealthMonitor) GetComponentHealth(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	health, ok := m.last[name]
	return health, ok
}

// StreamState is the view of a stream connector a health check needs.
type StreamState interface {
	Status() models.ConnectionStatus
	ReconnectPending() bool
	Attempts() int
	LastError() error
	Subscriptions() int
}

// StreamHealthCheck reports a connected stream as healthy, one that is connecting or
// waiting to retry as degraded, and one that gave up as unhealthy.
func StreamHealthCheck(stream StreamState) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		status := stream.Status()
		health := ComponentHealth{
			Details: map[string]interface{}{
				"status":        string(status),
				"attempts":      stream.Attempts(),
				"subscriptions": stream.Subscriptions(),
			},
		}

		switch {
		case status == models.StatusConnected:
			health.Status = HealthStatusHealthy
			health.Message = fmt.Sprintf("connected, %d subscriptions", stream.Subscriptions())
		case status == models.StatusConnecting || stream.ReconnectPending():
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("reconnecting (attempt %d)", stream.Attempts())
		default:
			health.Status = HealthStatusUnhealthy
			health.Message = "disconnected"
			if err := stream.LastError(); err != nil {
				health.Message = err.Error()
			}
		}
		return health
	}
}

// BreakerHealthCheck reports the state of a circuit breaker.
func BreakerHealthCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		health := ComponentHealth{
			Details: map[string]interface{}{
				"state":        string(stats.State),
				"requests":     stats.TotalRequests,
				"failures":     stats.TotalFailures,
				"rejected":     stats.TotalRejected,
				"failure_rate": stats.FailureRate(),
			},
		}

		switch stats.State {
		case CircuitOpen:
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("circuit open after %d consecutive failures", stats.CurrentFailures)
		case CircuitHalfOpen:
			health.Status = HealthStatusDegraded
			health.Message = "probing"
		default:
			health.Status = HealthStatusHealthy
			health.Message = fmt.Sprintf("%d requests, %.1f%% failed", stats.TotalRequests, stats.FailureRate())
		}
		return health
	}
}

// DatabaseHealthCheck creates a health check for the local journal database.
func DatabaseHealthCheck(clk clock.Clock, ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		var health ComponentHealth

		start := clk.Now()
		err := ping(ctx)
		health.Latency = clk.Now().Sub(start)

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("ping failed: %v", err)
			return health
		}

		if health.Latency > 100*time.Millisecond {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("slow: %v", health.Latency)
			return health
		}

		health.Status = HealthStatusHealthy
		health.Message = "reachable"
		return health
	}
}
