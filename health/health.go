package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"rag-ingest/config"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	Version = "1.0.0"
)

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// SessionCounter reports the number of live sessions
type SessionCounter interface {
	ActiveSessions(ctx context.Context) (int, error)
}

type check struct {
	name     string
	pinger   Pinger
	critical bool
}

type HealthChecker struct {
	config      config.HealthConfig
	environment string
	sessions    SessionCounter
	checks      []check

	mu               sync.Mutex
	cachedServices   map[string]ServiceInfo
	lastServiceCheck time.Time
	now              func() time.Time
}

type HealthStatus struct {
	Status         string                 `json:"status"`
	Version        string                 `json:"version"`
	Timestamp      time.Time              `json:"timestamp"`
	Uptime         string                 `json:"uptime"`
	Environment    string                 `json:"environment,omitempty"`
	ActiveSessions int                    `json:"active_sessions"`
	Services       map[string]ServiceInfo `json:"services"`
}

type ServiceInfo struct {
	Status    string `json:"status"`
	Available bool   `json:"available"`
	Critical  bool   `json:"critical"`
	Latency   string `json:"latency,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// NewHealthChecker creates a checker. Register dependencies with AddCheck.
func NewHealthChecker(cfg config.HealthConfig, environment string, sessions SessionCounter) *HealthChecker {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &HealthChecker{
		config:         cfg,
		environment:    environment,
		sessions:       sessions,
		cachedServices: make(map[string]ServiceInfo),
		now:            time.Now,
	}
}

// AddCheck registers a dependency. A failing critical dependency makes the
// service unhealthy; any other failure only degrades it.
func (h *HealthChecker) AddCheck(name string, pinger Pinger, critical bool) {
	if pinger == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, pinger: pinger, critical: critical})
	h.lastServiceCheck = time.Time{}
}

// Services returns the registered check names
func (h *HealthChecker) Services() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

func (h *HealthChecker) GetHealthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:      StatusHealthy,
		Version:     Version,
		Timestamp:   h.now(),
		Uptime:      time.Since(startTime).String(),
		Environment: h.environment,
		Services:    h.services(ctx),
	}

	if h.sessions != nil {
		if n, err := h.sessions.ActiveSessions(ctx); err == nil {
			status.ActiveSessions = n
		}
	}

	for _, service := range status.Services {
		if service.Available {
			continue
		}
		if service.Critical {
			status.Status = StatusUnhealthy
			break
		}
		status.Status = StatusDegraded
	}
	return status
}

// services returns the cached check results, refreshing them once the
// cache TTL has passed.
func (h *HealthChecker) services(ctx context.Context) map[string]ServiceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastServiceCheck.IsZero() || h.now().Sub(h.lastServiceCheck) > h.config.CacheTTL {
		h.cachedServices = h.refresh(ctx)
		h.lastServiceCheck = h.now()
	}

	out := make(map[string]ServiceInfo, len(h.cachedServices))
	for name, service := range h.cachedServices {
		out[name] = service
	}
	return out
}

func (h *HealthChecker) refresh(ctx context.Context) map[string]ServiceInfo {
	results := make(map[string]ServiceInfo, len(h.checks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range h.checks {
		wg.Add(1)
		go func(c check) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
			defer cancel()

			start := time.Now()
			err := c.pinger.Ping(checkCtx)
			info := ServiceInfo{
				Status:    "available",
				Available: true,
				Critical:  c.critical,
				Latency:   time.Since(start).String(),
			}
			if err != nil {
				info.Status = "unavailable"
				info.Available = false
				info.Error = err.Error()
			}

			mu.Lock()
			results[c.name] = info
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// Fiber handlers
func (h *HealthChecker) HealthHandler(c *fiber.Ctx) error {
	health := h.GetHealthStatus(c.UserContext())

	statusCode := fiber.StatusOK
	if health.Status == StatusUnhealthy {
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(health)
}

func (h *HealthChecker) ReadinessHandler(c *fiber.Ctx) error {
	health := h.GetHealthStatus(c.UserContext())

	if health.Status == StatusUnhealthy {
		var down []string
		for name, service := range health.Services {
			if !service.Available && service.Critical {
				down = append(down, name)
			}
		}
		sort.Strings(down)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "not_ready",
			"services": down,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "ready",
		"timestamp": h.now(),
	})
}

func (h *HealthChecker) LivenessHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "alive",
		"timestamp": h.now(),
		"uptime":    time.Since(startTime).String(),
	})
}
