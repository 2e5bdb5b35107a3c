// Package retry provides bounded retries with jittered backoff for
// adapter calls whose failures are frequently transient.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"
)

// Config bounds a retried operation.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig suits short read-side lookups such as the settlement
// print or the post-submission order search.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Do runs op until it succeeds, fails permanently, exhausts retries, or
// the overall timeout expires. Only transient errors are retried.
func Do[T any](ctx context.Context, logger *log.Logger, cfg Config, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	opCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", label, err)
		}

		result, err := op(opCtx)
		if err == nil {
			if attempt > 0 {
				logger.Printf("%s succeeded on attempt %d", label, attempt+1)
			}
			return result, nil
		}

		lastErr = err
		logger.Printf("%s attempt %d/%d failed: %v", label, attempt+1, cfg.MaxRetries+1, err)

		if !IsTransient(err) || attempt == cfg.MaxRetries {
			break
		}

		logger.Printf("transient error, retrying %s in %v", label, backoff)
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, cfg.MaxBackoff)
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s timed out during backoff: %w", label, opCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, cfg.MaxRetries+1, lastErr)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if maxBackoff > 0 && backoff > maxBackoff {
		backoff = maxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

type transientError struct{ err error }

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// Retryable marks err transient regardless of its text, for conditions
// the caller knows resolve with time, such as an order not yet visible
// on the orders endpoint.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether the error looks like a temporary
// transport or rate-limit failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te transientError
	if errors.As(err, &te) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"circuit breaker",
		"429", // HTTP 429 Too Many Requests
		"500", // HTTP 500 Internal Server Error
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
