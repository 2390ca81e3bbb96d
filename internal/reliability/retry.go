package reliability

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
)

// RetryPolicy decides whether a failed invocation attempt is re-sent
type RetryPolicy interface {
	// ShouldRetry determines if a retry should be attempted and after what delay
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxRetries returns the maximum number of retries
	MaxRetries() int
	// NextDelay calculates the delay before the given attempt
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff retries transient failures with growing delays. Redirects
// are re-sent immediately.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts || !IsRetryableError(err) {
		return false, 0
	}
	if isRedirect(err) {
		return true, 0
	}
	return true, e.NextDelay(attempt)
}

// MaxRetries implements RetryPolicy
func (e *ExponentialBackoff) MaxRetries() int {
	return e.MaxAttempts
}

// NextDelay implements RetryPolicy
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15% jitter
	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// FixedDelay retries transient failures after a constant delay
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a new fixed delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		Delay:       delay,
		MaxAttempts: maxRetries,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts || !IsRetryableError(err) {
		return false, 0
	}
	if isRedirect(err) {
		return true, 0
	}
	return true, f.Delay
}

// MaxRetries implements RetryPolicy
func (f *FixedDelay) MaxRetries() int {
	return f.MaxAttempts
}

// NextDelay implements RetryPolicy
func (f *FixedDelay) NextDelay(int) time.Duration {
	return f.Delay
}

// NoRetry never re-sends. Redirects still fail the call.
type NoRetry struct{}

// ShouldRetry implements RetryPolicy
func (NoRetry) ShouldRetry(int, error) (bool, time.Duration) { return false, 0 }

// MaxRetries implements RetryPolicy
func (NoRetry) MaxRetries() int { return 0 }

// NextDelay implements RetryPolicy
func (NoRetry) NextDelay(int) time.Duration { return 0 }

// Retry runs fn until it succeeds, the policy gives up or ctx is done. fn is
// passed the zero-based attempt number. When the policy gives up on a retryable
// failure the result is a *RetryError wrapping the last error; a failure that is
// not retryable is returned as is.
func Retry(ctx context.Context, op string, policy RetryPolicy, fn func(attempt int) error) error {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		shouldRetry, delay := policy.ShouldRetry(attempt, err)
		if !shouldRetry {
			if !IsRetryableError(err) {
				return err
			}
			return &RetryError{
				Op:          op,
				Attempts:    attempt + 1,
				MaxAttempts: policy.MaxRetries() + 1,
				LastError:   err,
				Duration:    time.Since(start),
			}
		}

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// RetryWithBackoff retries with the default client backoff
func RetryWithBackoff(ctx context.Context, op string, fn func(attempt int) error) error {
	return Retry(ctx, op, DefaultPolicy(), fn)
}

// DefaultPolicy is the client retry budget used when none is configured
func DefaultPolicy() RetryPolicy {
	return NewExponentialBackoff(50*time.Millisecond, 2*time.Second, 2.0, 5)
}

func isRedirect(err error) bool {
	var remarshal *interceptors.RemarshalError
	return errors.As(err, &remarshal)
}

// IsRetryableError reports whether a failed attempt may be re-sent. Remarshal
// requests always are. System exceptions are only when the target never started
// the operation and the failure is transient. Errors can opt in or out through
// an IsRetryable method.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNonRetryable), errors.Is(err, ErrMaxRetriesExceeded):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	if isRedirect(err) {
		return true
	}

	var sysErr *contracts.SystemException
	if errors.As(err, &sysErr) {
		if sysErr.Completed != contracts.CompletedNo {
			return false
		}
		switch sysErr.Name {
		case contracts.Transient, contracts.CommFailure:
			return true
		}
		return false
	}

	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return cbErr.State != StateOpen || time.Now().After(cbErr.NextRetry)
	}

	return false
}

// RetryableError marks an error as retryable or not
type RetryableError struct {
	Err       error
	Retryable bool
}

// Error implements error interface
func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable indicates if the error is retryable
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

// Unwrap returns the wrapped error
func (r RetryableError) Unwrap() error {
	return r.Err
}
