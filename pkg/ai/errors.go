// Package ai holds what the inference providers share: error classification
// and the retry policy applied to provider calls.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

var (
	// ErrRecoverable marks a temporary provider failure (timeouts, rate limits, 5xx).
	ErrRecoverable = errors.New("recoverable AI provider error")

	// ErrFatal marks a failure that retrying cannot fix (bad credentials, bad request).
	ErrFatal = errors.New("fatal AI provider error")
)

// RetryConfig configures retry behavior for recoverable errors
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterPercent float32 // 0.0-1.0
}

// DefaultRetryConfig is used by the network providers.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryableError wraps an underlying error with retry classification.
// errors.Is matches both the classification and the underlying error.
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	switch {
	case e.Message != "" && e.Underlying != nil:
		return e.Message + ": " + e.Underlying.Error()
	case e.Message != "":
		return e.Message
	case e.Underlying != nil:
		return e.Underlying.Error()
	}
	return "AI provider error"
}

func (e *RetryableError) Unwrap() []error {
	class := ErrFatal
	if e.Retryable {
		class = ErrRecoverable
	}
	if e.Underlying == nil {
		return []error{class}
	}
	return []error{class, e.Underlying}
}

func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{Underlying: underlying, Retryable: true, Message: message}
}

func NewFatalError(underlying error, message string) error {
	return &RetryableError{Underlying: underlying, Retryable: false, Message: message}
}

// ClassifyHTTPStatus turns a provider HTTP status into a classified error.
// 429 and 5xx are recoverable, everything else is fatal. 2xx returns nil.
func ClassifyHTTPStatus(status int, err error) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("provider returned %d %s", status, http.StatusText(status))
	if status == http.StatusTooManyRequests || status >= 500 {
		return NewRecoverableError(err, msg)
	}
	return NewFatalError(err, msg)
}

// Retry calls fn until it succeeds, returns a fatal error, or cfg.MaxRetries
// is exhausted. Unclassified errors are retried.
func Retry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.Backoff(attempt)
			logger.Info("Retrying provider call",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("last_error", lastErr.Error()))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: exhausted %d retries: %w", op, cfg.MaxRetries, lastErr)
}

// Backoff returns the delay before retry attempt n (n >= 1).
func (c RetryConfig) Backoff(n int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(n-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterPercent > 0 {
		spread := delay * float64(c.JitterPercent)
		delay += (rand.Float64() - 0.5) * 2 * spread
	}

	if delay < 0 {
		delay = float64(c.InitialDelay)
	}
	return time.Duration(delay)
}
