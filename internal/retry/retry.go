// Package retry provides the retry envelope that wraps fallible operations
// with exponential backoff, jitter, and retryable/permanent classification.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter enables randomization of delays.
	Jitter bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (c Config) sanitized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent retrying.
	Duration time.Duration
}

// Do executes op with retries, recording each attempt as a span event on the
// span carried by ctx. Permanent errors abort immediately; the last
// underlying error is returned when attempts are exhausted.
func Do(ctx context.Context, config Config, opName string, op func(ctx context.Context) error) Result {
	config = config.sanitized()
	start := time.Now()
	result := Result{}
	span := trace.SpanFromContext(ctx)

	delay := config.InitialDelay
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		}

		span.AddEvent("retry.attempt", trace.WithAttributes(
			attribute.String("retry.operation", opName),
			attribute.Int("retry.attempt", attempt),
		))

		err := op(ctx)
		if err == nil {
			result.Err = nil
			result.Duration = time.Since(start)
			return result
		}
		result.Err = err

		if !IsRetryable(err) {
			result.Duration = time.Since(start)
			return result
		}
		if attempt >= config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter {
			// delay * U, U ~ Uniform(0.5, 1.5)
			u := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
			sleep = time.Duration(float64(delay) * u)
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, opName string, op func(ctx context.Context) (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, opName, func(ctx context.Context) error {
		var err error
		value, err = op(ctx)
		return err
	})
	return value, result
}

// Backoff calculates the un-jittered backoff duration for a given attempt.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

// PermanentError is an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to mark it permanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Classifier lets error types declare their own retry policy. provider.Error
// implements it.
type Classifier interface {
	Retryable() bool
}

// IsRetryable reports whether err should be retried. PermanentError always
// wins; otherwise an error implementing Classifier decides for itself, and
// unclassified errors default to retryable (transient until proven not).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.Retryable()
	}
	return true
}
