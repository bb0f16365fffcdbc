package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrBlocked is returned while the error budget of the source is spent.
var ErrBlocked = errors.New("source error budget exhausted")

var (
	waitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_ratelimit_waits_total",
		Help: "Total number of page fetches delayed by the request rate limit",
	}, []string{"source"})

	waitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagesync_ratelimit_wait_seconds",
		Help:    "Time page fetches waited for the request rate limit",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	errorsRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagesync_source_errors_remaining",
		Help: "Transport errors left in the current budget window",
	}, []string{"source"})

	blocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_ratelimit_blocks_total",
		Help: "Total number of page fetches refused because the error budget was spent",
	}, []string{"source"})

	throttlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_ratelimit_throttles_total",
		Help: "Total number of page fetches delayed because the error budget is low",
	}, []string{"source"})
)

// Config holds the pacing configuration of one source.
type Config struct {
	// Source labels metrics and logs.
	Source string

	// RequestsPerSecond is the sustained request rate. Zero disables the limit.
	RequestsPerSecond float64

	// Burst is the number of requests allowed at once.
	Burst int

	// ThrottleDelay is added before each request while the error budget is low.
	ThrottleDelay time.Duration
}

// DefaultConfig returns the pacing defaults for source.
func DefaultConfig(source string) Config {
	return Config{
		Source:            source,
		RequestsPerSecond: 10,
		Burst:             5,
		ThrottleDelay:     time.Second,
	}
}

// Fetcher paces calls to the wrapped Fetcher.
type Fetcher[T any] struct {
	inner   pagination.Fetcher[T]
	limiter *rate.Limiter
	tracker Tracker
	config  Config
	logger  zerolog.Logger
}

// NewFetcher wraps inner. A nil tracker uses a MemoryTracker with the default budget.
func NewFetcher[T any](inner pagination.Fetcher[T], tracker Tracker, cfg Config, logger zerolog.Logger) *Fetcher[T] {
	if inner == nil {
		panic("inner fetcher cannot be nil")
	}
	if tracker == nil {
		tracker = NewMemoryTracker(DefaultErrorBudget, DefaultWindow)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Fetcher[T]{
		inner:   inner,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		tracker: tracker,
		config:  cfg,
		logger:  logger.With().Str("component", "ratelimit").Str("source", cfg.Source).Logger(),
	}
}

// FetchPage waits for the rate limit and the error budget, then fetches.
// Transport failures are charged to the budget.
func (f *Fetcher[T]) FetchPage(ctx context.Context, req collection.PageRequest) (collection.PageResponse[T], error) {
	if err := f.gate(ctx); err != nil {
		return collection.PageResponse[T]{}, err
	}

	resp, err := f.inner.FetchPage(ctx, req)
	if err != nil && f.chargeable(ctx, err) {
		if rerr := f.tracker.RecordError(context.WithoutCancel(ctx)); rerr != nil {
			f.logger.Warn().Err(rerr).Msg("Failed to record source error")
		}
	}
	return resp, err
}

// Invalidate forwards to the wrapped fetcher when it caches pages.
func (f *Fetcher[T]) Invalidate(ctx context.Context) error {
	if inv, ok := f.inner.(interface{ Invalidate(context.Context) error }); ok {
		return inv.Invalidate(ctx)
	}
	return nil
}

func (f *Fetcher[T]) gate(ctx context.Context) error {
	state, err := f.tracker.GetState(ctx)
	if err != nil {
		// Fail open.
		f.logger.Warn().Err(err).Msg("Failed to read error budget")
	} else {
		errorsRemaining.WithLabelValues(f.config.Source).Set(float64(state.ErrorsRemaining))

		if state.NeedsCriticalBlock() {
			wait := state.TimeUntilReset()
			blocksTotal.WithLabelValues(f.config.Source).Inc()
			f.logger.Error().
				Int("errors_remaining", state.ErrorsRemaining).
				Dur("wait_duration", wait).
				Msg("Source error budget spent - blocking request")
			return collection.TransportError("rate limit", fmt.Errorf("%w, resets in %s", ErrBlocked, wait.Round(time.Second)))
		}

		if state.NeedsThrottling() && f.config.ThrottleDelay > 0 {
			throttlesTotal.WithLabelValues(f.config.Source).Inc()
			f.logger.Warn().
				Int("errors_remaining", state.ErrorsRemaining).
				Msg("Source error budget low - throttling request")

			timer := time.NewTimer(f.config.ThrottleDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return collection.TransportError("rate limit", ctx.Err())
			}
		}
	}

	start := time.Now()
	if err := f.limiter.Wait(ctx); err != nil {
		return collection.TransportError("rate limit", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		waitsTotal.WithLabelValues(f.config.Source).Inc()
		waitSeconds.WithLabelValues(f.config.Source).Observe(waited.Seconds())
	}
	return nil
}

// chargeable reports whether err counts against the budget. Only transport
// failures count, caller cancellations do not.
func (f *Fetcher[T]) chargeable(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return false
	}
	return collection.Classify(err) == collection.ErrorClassTransport
}
