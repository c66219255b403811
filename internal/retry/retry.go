// Package retry runs provider calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	// Retryable classifies errors; nil treats every non-permanent error as retryable.
	Retryable func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. It returns the last error from fn.
func Do(ctx context.Context, policy Policy, op string, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if !policy.shouldRetry(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := policy.Delay(attempt)
		zap.L().Warn("Retrying operation",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	zap.L().Error("Operation failed after retries",
		zap.String("op", op),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return err
}

func (p Policy) shouldRetry(err error) bool {
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// Delay returns the wait before retry number attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		// ±10%
		delay += delay * 0.1 * (2*rand.Float64() - 1)
	}
	return time.Duration(delay)
}
