// Package trigger turns view events into coordinator requests.
//
// Mount loads the first page when a view appears, Scroll loads the next page
// when the end-of-list sentinel becomes visible, and Refresh discards the
// collection and starts over. All three feed the same coordinator, so their
// requests are subject to one single-flight guard.
package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyMounted is returned when Mount fires twice in one generation.
	ErrAlreadyMounted = fmt.Errorf("%w: already mounted", collection.ErrLogic)

	// ErrNotEmpty is returned when Mount finds a populated or busy collection.
	ErrNotEmpty = fmt.Errorf("%w: collection already populated", collection.ErrLogic)

	// ErrSuppressed is returned when Scroll defers to search backfill.
	ErrSuppressed = fmt.Errorf("%w: scroll suppressed while filtering", collection.ErrLogic)
)

// Coordinator is the part of pagination.Coordinator the triggers drive.
type Coordinator[T any] interface {
	State() *collection.State[T]
	RequestInitial(ctx context.Context) (*pagination.Flight, error)
	RequestMore(ctx context.Context) (*pagination.Flight, error)
	Reset() uint64
}

// Mount requests the first page when a view appears.
type Mount[T any] struct {
	coord  Coordinator[T]
	logger zerolog.Logger

	mu       sync.Mutex
	fired    bool
	firedGen uint64
}

// NewMount creates a mount trigger.
func NewMount[T any](coord Coordinator[T], logger zerolog.Logger) *Mount[T] {
	return &Mount[T]{
		coord:  coord,
		logger: logger.With().Str("trigger", "mount").Logger(),
	}
}

// Activate requests the first page if the collection is empty and idle and the
// trigger has not fired in the current generation. The trigger lock is not held
// while requesting, so state observers may call back into the synchronizer.
func (m *Mount[T]) Activate(ctx context.Context) (*pagination.Flight, error) {
	m.mu.Lock()
	snap := m.coord.State().Snapshot()
	if m.fired && m.firedGen == snap.Generation {
		m.mu.Unlock()
		return nil, ErrAlreadyMounted
	}
	if len(snap.Items) > 0 || snap.Status != collection.StatusIdle {
		m.mu.Unlock()
		return nil, ErrNotEmpty
	}
	prevFired, prevGen := m.fired, m.firedGen
	m.fired, m.firedGen = true, snap.Generation
	m.mu.Unlock()

	f, err := m.coord.RequestInitial(ctx)
	if err != nil {
		m.mu.Lock()
		if m.fired && m.firedGen == snap.Generation {
			m.fired, m.firedGen = prevFired, prevGen
		}
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.fired, m.firedGen = true, f.Generation
	m.mu.Unlock()

	m.logger.Debug().Uint64("generation", f.Generation).Msg("Mount requested first page")
	return f, nil
}

// ScrollOption configures a Scroll trigger.
type ScrollOption func(*scrollOptions)

type scrollOptions struct {
	suppressWhileFiltering bool
}

// SuppressWhileFiltering leaves loading to search backfill while a filter is active.
func SuppressWhileFiltering() ScrollOption {
	return func(o *scrollOptions) {
		o.suppressWhileFiltering = true
	}
}

// Scroll requests the next page when the end-of-list sentinel becomes visible.
type Scroll[T any] struct {
	coord  Coordinator[T]
	opts   scrollOptions
	logger zerolog.Logger
}

// NewScroll creates a scroll trigger.
func NewScroll[T any](coord Coordinator[T], logger zerolog.Logger, opts ...ScrollOption) *Scroll[T] {
	s := &Scroll[T]{
		coord:  coord,
		logger: logger.With().Str("trigger", "scroll").Logger(),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// SentinelVisible requests the next page. It returns a logic error without
// fetching while a fetch is outstanding, before the first page, after
// exhaustion, and when suppressed by an active filter.
func (s *Scroll[T]) SentinelVisible(ctx context.Context) (*pagination.Flight, error) {
	if s.opts.suppressWhileFiltering && s.coord.State().Snapshot().Filter != "" {
		s.logger.Debug().Msg("Scroll suppressed while filtering")
		return nil, ErrSuppressed
	}
	return s.coord.RequestMore(ctx)
}

// ResetHook runs during Refresh after the coordinator reset and before the
// first page of the new generation is requested.
type ResetHook func(ctx context.Context)

// Refresh discards the collection and loads it again from the first page.
type Refresh[T any] struct {
	coord  Coordinator[T]
	mount  *Mount[T]
	hooks  []ResetHook
	logger zerolog.Logger
}

// NewRefresh creates a refresh trigger that reloads through mount.
func NewRefresh[T any](coord Coordinator[T], mount *Mount[T], logger zerolog.Logger, hooks ...ResetHook) *Refresh[T] {
	return &Refresh[T]{
		coord:  coord,
		mount:  mount,
		hooks:  hooks,
		logger: logger.With().Str("trigger", "refresh").Logger(),
	}
}

// Fire resets the coordinator, runs the reset hooks and requests the first
// page of the new generation. A response still in flight is discarded.
func (r *Refresh[T]) Fire(ctx context.Context) (*pagination.Flight, error) {
	gen := r.coord.Reset()
	for _, hook := range r.hooks {
		hook(ctx)
	}

	r.logger.Info().Uint64("generation", gen).Msg("Refreshing collection")
	return r.mount.Activate(ctx)
}
