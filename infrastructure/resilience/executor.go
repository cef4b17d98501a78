package resilience

import (
	"context"
	"errors"
	"time"

	pkgerrors "acs-backend/pkg/errors"

	"go.uber.org/zap"
)

// DefaultTimeouts returns the per-class call deadlines
func DefaultTimeouts() map[OperationClass]time.Duration {
	return map[OperationClass]time.Duration{
		ClassDatabase:   30 * time.Second,
		ClassExternal:   10 * time.Second,
		ClassNetwork:    10 * time.Second,
		ClassFilesystem: 5 * time.Second,
	}
}

// Executor wraps externally-facing calls with the full resilience
// stack: per-class timeout, circuit breaker, bounded retry, and health
// recording. A timeout counts as a failure for both retry and breaker.
type Executor struct {
	breakers *BreakerRegistry
	retry    RetryPolicy
	health   *HealthMonitor
	timeouts map[OperationClass]time.Duration
	logger   *zap.Logger
}

// NewExecutor assembles the resilience stack
func NewExecutor(breakers *BreakerRegistry, retry RetryPolicy, health *HealthMonitor, timeouts map[OperationClass]time.Duration, logger *zap.Logger) *Executor {
	if timeouts == nil {
		timeouts = DefaultTimeouts()
	}
	return &Executor{
		breakers: breakers,
		retry:    retry,
		health:   health,
		timeouts: timeouts,
		logger:   logger,
	}
}

// Do runs fn with timeout, breaker, and retry, recording the outcome
// into the health metrics. An open breaker fast-fails with CircuitOpen.
func (e *Executor) Do(ctx context.Context, class OperationClass, operation string, fn func(ctx context.Context) error) error {
	return e.retry.Execute(ctx, operation, e.logger, func(ctx context.Context) error {
		start := time.Now()
		err := e.breakers.Execute(class, func() error {
			timeout, ok := e.timeouts[class]
			if !ok {
				timeout = 30 * time.Second
			}
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			callErr := fn(callCtx)
			if errors.Is(callErr, context.DeadlineExceeded) {
				return pkgerrors.NewTimeoutError(operation)
			}
			return callErr
		})
		e.health.Record(class, operation, time.Since(start), err)
		return err
	})
}

// DoWithFallback is Do, but an open breaker invokes the fallback
// instead of failing fast. Fallback results are recorded as successes.
func (e *Executor) DoWithFallback(ctx context.Context, class OperationClass, operation string, fn func(ctx context.Context) error, fallback func(error) error) error {
	err := e.Do(ctx, class, operation, fn)
	if err != nil && pkgerrors.IsCircuitOpen(err) && fallback != nil {
		return fallback(err)
	}
	return err
}

// Health exposes the monitor for the HTTP health handler
func (e *Executor) Health() *HealthMonitor { return e.health }

// Breakers exposes the registry for status reporting
func (e *Executor) Breakers() *BreakerRegistry { return e.breakers }
