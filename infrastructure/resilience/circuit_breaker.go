package resilience

import (
	"errors"
	"sync"
	"time"

	pkgerrors "acs-backend/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// OperationClass buckets externally-facing operations for breakers,
// timeouts, and health accounting.
type OperationClass string

const (
	ClassDatabase   OperationClass = "database"
	ClassExternal   OperationClass = "external"
	ClassNetwork    OperationClass = "network"
	ClassFilesystem OperationClass = "filesystem"
)

// BreakerSettings tunes one operation class
type BreakerSettings struct {
	FailureThreshold uint32        // consecutive failures before opening
	RecoveryWindow   time.Duration // open duration before a half-open probe
}

// DefaultBreakerSettings returns the per-class defaults
func DefaultBreakerSettings() map[OperationClass]BreakerSettings {
	return map[OperationClass]BreakerSettings{
		ClassDatabase:   {FailureThreshold: 5, RecoveryWindow: 30 * time.Second},
		ClassExternal:   {FailureThreshold: 4, RecoveryWindow: 30 * time.Second},
		ClassNetwork:    {FailureThreshold: 5, RecoveryWindow: 30 * time.Second},
		ClassFilesystem: {FailureThreshold: 5, RecoveryWindow: 30 * time.Second},
	}
}

// BreakerRegistry holds one circuit breaker per operation class. The
// breaker engine is gobreaker: closed -> open after the configured
// consecutive failures, open -> half-open after the recovery window,
// and a single half-open probe decides between closed and open again.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[OperationClass]*gobreaker.CircuitBreaker
	settings map[OperationClass]BreakerSettings
	logger   *zap.Logger

	stateGauge      *prometheus.GaugeVec
	transitionCount *prometheus.CounterVec
}

// NewBreakerRegistry creates a registry with the given per-class settings
func NewBreakerRegistry(settings map[OperationClass]BreakerSettings, reg prometheus.Registerer, logger *zap.Logger) *BreakerRegistry {
	if settings == nil {
		settings = DefaultBreakerSettings()
	}
	r := &BreakerRegistry{
		breakers: make(map[OperationClass]*gobreaker.CircuitBreaker),
		settings: settings,
		logger:   logger,
		stateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acs_circuit_breaker_state",
			Help: "Circuit breaker state per operation class (0 closed, 1 half-open, 2 open)",
		}, []string{"class"}),
		transitionCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions per operation class",
		}, []string{"class", "to"}),
	}
	if reg != nil {
		reg.MustRegister(r.stateGauge, r.transitionCount)
	}
	return r
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func (r *BreakerRegistry) breaker(class OperationClass) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[class]; ok {
		return cb
	}
	s, ok := r.settings[class]
	if !ok {
		s = BreakerSettings{FailureThreshold: 5, RecoveryWindow: 30 * time.Second}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(class),
		MaxRequests: 1, // single half-open probe
		Timeout:     s.RecoveryWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.stateGauge.WithLabelValues(name).Set(stateValue(to))
			r.transitionCount.WithLabelValues(name, to.String()).Inc()
			r.logger.Info("circuit breaker state changed",
				zap.String("class", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	r.breakers[class] = cb
	return cb
}

// Execute runs fn under the class breaker. When the breaker is open the
// call short-circuits with CircuitOpen without invoking fn.
func (r *BreakerRegistry) Execute(class OperationClass, fn func() error) error {
	_, err := r.breaker(class).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewCircuitOpenError(string(class))
	}
	return err
}

// ExecuteWithFallback runs fn under the class breaker; when the breaker
// is open the fallback is invoked instead of failing fast.
func (r *BreakerRegistry) ExecuteWithFallback(class OperationClass, fn func() error, fallback func(error) error) error {
	err := r.Execute(class, fn)
	if err != nil && pkgerrors.IsCircuitOpen(err) && fallback != nil {
		return fallback(err)
	}
	return err
}

// State returns the breaker state for a class
func (r *BreakerRegistry) State(class OperationClass) gobreaker.State {
	return r.breaker(class).State()
}
