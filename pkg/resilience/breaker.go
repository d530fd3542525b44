package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned without calling the protected function while
// the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents circuit breaker states
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	Name             string        `json:"name"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
}

// DefaultBreakerConfig returns the configuration used for backend calls
func DefaultBreakerConfig(name string) *BreakerConfig {
	return &BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// BreakerStats tracks circuit breaker statistics
type BreakerStats struct {
	State               State     `json:"state"`
	Requests            int64     `json:"requests"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejected            int64     `json:"rejected"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	NextRetryTime       time.Time `json:"next_retry_time"`
}

// CircuitBreaker stops calling a failing backend for RecoveryTimeout after
// FailureThreshold consecutive failures, then lets trial calls through
// until SuccessThreshold of them succeed.
type CircuitBreaker struct {
	config          *BreakerConfig
	stats           BreakerStats
	halfOpenSuccess int
	mu              sync.Mutex
	logger          zerolog.Logger
	now             func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *BreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		stats:  BreakerStats{State: StateClosed},
		logger: logger.With().Str("circuit_breaker", config.Name).Logger(),
		now:    time.Now,
	}
}

// Execute runs fn unless the breaker is open. The lock is not held while
// fn runs.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// Stats returns a snapshot of the breaker statistics
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	return cb.Stats().State
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.stats.State == StateOpen {
		if cb.now().Before(cb.stats.NextRetryTime) {
			cb.stats.Rejected++
			return false
		}
		cb.stats.State = StateHalfOpen
		cb.halfOpenSuccess = 0
		cb.logger.Info().Msg("Circuit breaker transitioning to half-open")
	}
	cb.stats.Requests++
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.stats.Failures++
		cb.stats.ConsecutiveFailures++
		cb.stats.LastFailureTime = cb.now()

		switch {
		case cb.stats.State == StateHalfOpen:
			cb.open()
			cb.logger.Warn().Msg("Circuit breaker returned to open state")
		case cb.stats.ConsecutiveFailures >= cb.config.FailureThreshold:
			cb.open()
			cb.logger.Warn().
				Int("failures", cb.stats.ConsecutiveFailures).
				Msg("Circuit breaker opened due to failures")
		}
		return
	}

	cb.stats.Successes++
	cb.stats.ConsecutiveFailures = 0
	if cb.stats.State == StateHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.SuccessThreshold {
			cb.stats.State = StateClosed
			cb.logger.Info().Msg("Circuit breaker closed after successful recovery")
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.stats.State = StateOpen
	cb.stats.NextRetryTime = cb.now().Add(cb.config.RecoveryTimeout)
}
