package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	pkgerrors "acs-backend/pkg/errors"

	"go.uber.org/zap"
)

// RetryPolicy retries retryable failures with exponential backoff and
// uniform jitter. The delay before attempt n+1 is
// min(BaseDelay * 2^(n-1), CapDelay) +/- JitterFraction.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	CapDelay       time.Duration
	JitterFraction float64
}

// DefaultRetryPolicy returns the standard policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      1 * time.Second,
		CapDelay:       30 * time.Second,
		JitterFraction: 0.25,
	}
}

// Delay computes the backoff before retry attempt n (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if capped := float64(p.CapDelay); backoff > capped {
		backoff = capped
	}
	jitter := 1 + p.JitterFraction*(2*rand.Float64()-1)
	return time.Duration(backoff * jitter)
}

// Execute runs fn, retrying retryable errors up to MaxRetries times.
// Validation failures, not-found, not-supported, and cycle violations
// are surfaced immediately; so is an open circuit.
func (p RetryPolicy) Execute(ctx context.Context, operation string, logger *zap.Logger, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			logger.Debug("retrying operation",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return pkgerrors.NewCanceledError(operation)
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}

	logger.Warn("retries exhausted",
		zap.String("operation", operation),
		zap.Int("maxRetries", p.MaxRetries),
		zap.Error(lastErr),
	)
	return lastErr
}

// Retryable classifies an error for retry purposes. Context deadline
// errors count as timeouts; an open breaker never retries.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pkgerrors.IsCircuitOpen(err) {
		return false
	}
	return pkgerrors.IsRetryable(err)
}
