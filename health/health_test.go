package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest/config"
)

type counter int

func (c counter) ActiveSessions(context.Context) (int, error) { return int(c), nil }

func up() Pinger { return PingFunc(func(context.Context) error { return nil }) }

func down() Pinger {
	return PingFunc(func(context.Context) error { return errors.New("connection refused") })
}

func newChecker() *HealthChecker {
	return NewHealthChecker(config.HealthConfig{CacheTTL: time.Minute, Timeout: time.Second}, "test", counter(2))
}

func TestHealthStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		h := newChecker()
		h.AddCheck("session_store", up(), true)
		h.AddCheck("embedding", up(), false)

		status := h.GetHealthStatus(ctx)
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "1.0.0", status.Version)
		assert.Equal(t, 2, status.ActiveSessions)
		assert.Len(t, status.Services, 2)
		assert.True(t, status.Services["embedding"].Available)
		assert.Equal(t, []string{"embedding", "session_store"}, h.Services())
	})

	t.Run("optional dependency down degrades", func(t *testing.T) {
		h := newChecker()
		h.AddCheck("session_store", up(), true)
		h.AddCheck("embedding", down(), false)

		status := h.GetHealthStatus(ctx)
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, "connection refused", status.Services["embedding"].Error)
	})

	t.Run("critical dependency down", func(t *testing.T) {
		h := newChecker()
		h.AddCheck("embedding", down(), false)
		h.AddCheck("vector_store", down(), true)

		assert.Equal(t, StatusUnhealthy, h.GetHealthStatus(ctx).Status)
	})

	t.Run("nil pinger ignored", func(t *testing.T) {
		h := newChecker()
		h.AddCheck("queue", nil, false)
		assert.Empty(t, h.Services())
	})
}

func TestServiceCaching(t *testing.T) {
	var calls int32
	h := newChecker()
	h.AddCheck("redis", PingFunc(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), true)

	now := time.Now()
	h.now = func() time.Time { return now }

	h.GetHealthStatus(context.Background())
	h.GetHealthStatus(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	now = now.Add(2 * time.Minute)
	h.GetHealthStatus(context.Background())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestHandlers(t *testing.T) {
	healthy := newChecker()
	healthy.AddCheck("session_store", up(), true)

	broken := newChecker()
	broken.AddCheck("session_store", down(), true)

	tests := []struct {
		name    string
		checker *HealthChecker
		path    string
		handler func(h *HealthChecker) fiber.Handler
		code    int
		status  string
	}{
		{"health ok", healthy, "/health", func(h *HealthChecker) fiber.Handler { return h.HealthHandler }, fiber.StatusOK, StatusHealthy},
		{"health down", broken, "/health", func(h *HealthChecker) fiber.Handler { return h.HealthHandler }, fiber.StatusServiceUnavailable, StatusUnhealthy},
		{"ready", healthy, "/health/ready", func(h *HealthChecker) fiber.Handler { return h.ReadinessHandler }, fiber.StatusOK, "ready"},
		{"not ready", broken, "/health/ready", func(h *HealthChecker) fiber.Handler { return h.ReadinessHandler }, fiber.StatusServiceUnavailable, "not_ready"},
		{"live", broken, "/health/live", func(h *HealthChecker) fiber.Handler { return h.LivenessHandler }, fiber.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get(tt.path, tt.handler(tt.checker))

			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body["status"])
		})
	}
}
