package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_http_retries_total",
		Help: "Total number of page request retries by error class",
	}, []string{"error_class"})

	httpRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_http_retry_exhausted_total",
		Help: "Total number of page requests failing after all retries by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the transport retry configuration.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Zero disables retries.
	MaxRetries int

	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
// Retries are off: a failed page is surfaced and retried by the next trigger.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     0,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

func (c RetryConfig) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxRetries)), ctx)
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable
// error, the retries are used up or ctx is done.
func (f *HTTPFetcher[T]) retryWithBackoff(ctx context.Context, fn func() error) error {
	attempts := 0
	var lastClass ErrorClass

	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			lastClass = httpErr.ErrorClass
			if !shouldRetry(httpErr.ErrorClass) {
				return backoff.Permanent(err)
			}
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		httpRetriesTotal.WithLabelValues(string(lastClass)).Inc()
		f.logger.Debug().
			Err(err).
			Str("error_class", string(lastClass)).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Retrying page request after backoff")
	}

	err := backoff.RetryNotify(op, f.config.Retry.policy(ctx), notify)
	if err == nil {
		if attempts > 1 {
			f.logger.Info().
				Str("error_class", string(lastClass)).
				Int("attempt", attempts).
				Msg("Page request succeeded after retry")
		}
		return nil
	}

	if attempts > 1 && shouldRetry(lastClass) {
		httpRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
		f.logger.Warn().
			Str("error_class", string(lastClass)).
			Int("attempts", attempts).
			Msg("Retry attempts exhausted")
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
	}
	return err
}
