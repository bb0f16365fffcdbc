// Package synchronizer wires a paginated collection together: state,
// coordinator, triggers and search backfill behind one facade per view.
//
// Usage:
//
//	movies, err := synchronizer.New[Movie](fetcher, synchronizer.Config[Movie]{
//	    Name:  "movies",
//	    Key:   func(m Movie) string { return strconv.Itoa(m.ID) },
//	    Match: func(m Movie, q string) bool { return strings.Contains(strings.ToLower(m.Title), strings.ToLower(q)) },
//	})
//	if err != nil {
//	    return err
//	}
//	defer movies.Close()
//
//	movies.Subscribe(render)
//	movies.Initialize(ctx) // view mounted
//	movies.LoadMore(ctx)   // end-of-list sentinel visible
//	movies.SetFilter("batman")
//	movies.Refresh(ctx)    // pull to refresh
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/pagesync/pkg/backfill"
	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/logging"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/Sternrassler/pagesync/pkg/trigger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidConfig is returned by New for unusable configurations.
	ErrInvalidConfig = errors.New("invalid synchronizer config")

	// ErrClosed is returned by requests on a closed synchronizer.
	ErrClosed = fmt.Errorf("%w: synchronizer closed", collection.ErrLogic)
)

// Config describes one synchronized collection.
type Config[T any] struct {
	// Name identifies the collection in logs and metric labels.
	Name string

	// Key extracts the unique item key. Required.
	Key collection.KeyFunc[T]

	// Match decides item visibility under a client-side filter. Defaults to a
	// case-insensitive substring match on the item's default formatting.
	Match backfill.MatchFunc[T]

	// PageSize is the page limit (default 20).
	PageSize int

	// Timeout per page fetch (default 15s).
	Timeout time.Duration

	// MinVisible is the number of matching items backfill aims for (default 5).
	MinVisible int

	// MaxBackfillRounds bounds backfill requests per filter change (default 5).
	MaxBackfillRounds int

	// Debounce is the quiescence period after filter changes (default 300ms).
	Debounce time.Duration

	// SuppressScrollWhileFiltering leaves loading to backfill while a filter is active.
	SuppressScrollWhileFiltering bool

	// ServerSideFilter sends the filter to the source and reloads from the first
	// page on every filter change instead of filtering locally.
	ServerSideFilter bool
}

// Invalidator is implemented by fetchers holding cached pages.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Option configures a Synchronizer.
type Option func(*options)

type options struct {
	notifier    pagination.Notifier
	logger      *zerolog.Logger
	invalidator Invalidator
}

// WithNotifier sets the receiver of fetch failures. Defaults to logging them.
func WithNotifier(n pagination.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithInvalidator sets the cache dropped on Refresh. Without it the fetcher is
// used when it implements Invalidator.
func WithInvalidator(inv Invalidator) Option {
	return func(o *options) {
		o.invalidator = inv
	}
}

// Synchronizer keeps one remote collection in sync with a view.
type Synchronizer[T any] struct {
	id     uuid.UUID
	config Config[T]
	logger zerolog.Logger

	coord    *pagination.Coordinator[T]
	mount    *trigger.Mount[T]
	scroll   *trigger.Scroll[T]
	refresh  *trigger.Refresh[T]
	backfill *backfill.Controller[T]

	invalidator Invalidator

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	filterTimer *time.Timer
	closed      bool
}

// New creates a synchronizer for the collection served by fetcher.
func New[T any](fetcher pagination.Fetcher[T], cfg Config[T], opts ...Option) (*Synchronizer[T], error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("%w: key func is required", ErrInvalidConfig)
	}
	if cfg.PageSize < 0 || cfg.MinVisible < 0 || cfg.MaxBackfillRounds < 0 {
		return nil, fmt.Errorf("%w: sizes must not be negative", ErrInvalidConfig)
	}
	if cfg.Name == "" {
		cfg.Name = "collection"
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = backfill.DefaultDebounce
	}
	if cfg.Match == nil {
		cfg.Match = backfill.ContainsFold(func(item T) string { return fmt.Sprint(item) })
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New()
	base := logging.NewLogger("synchronizer")
	if o.logger != nil {
		base = *o.logger
	}
	logger := logging.ForCollection(base, cfg.Name, id.String())

	notifier := o.notifier
	if notifier == nil {
		notifier = pagination.LogNotifier{Logger: logger}
	}

	invalidator := o.invalidator
	if invalidator == nil {
		if inv, ok := fetcher.(Invalidator); ok {
			invalidator = inv
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	state := collection.NewState(cfg.Key)
	coord := pagination.NewCoordinator(fetcher, state, notifier, pagination.Config{
		Name:          cfg.Name,
		PageSize:      cfg.PageSize,
		Timeout:       cfg.Timeout,
		ForwardFilter: cfg.ServerSideFilter,
	}, logger)

	s := &Synchronizer[T]{
		id:          id,
		config:      cfg,
		logger:      logger,
		coord:       coord,
		invalidator: invalidator,
		ctx:         ctx,
		cancel:      cancel,
	}

	var scrollOpts []trigger.ScrollOption
	if cfg.SuppressScrollWhileFiltering && !cfg.ServerSideFilter {
		scrollOpts = append(scrollOpts, trigger.SuppressWhileFiltering())
	}
	s.mount = trigger.NewMount[T](coord, logger)
	s.scroll = trigger.NewScroll[T](coord, logger, scrollOpts...)

	hooks := []trigger.ResetHook{s.invalidate}
	if !cfg.ServerSideFilter {
		s.backfill = backfill.New[T](ctx, coord, cfg.Match, backfill.Config{
			Name:       cfg.Name,
			MinVisible: cfg.MinVisible,
			MaxRounds:  cfg.MaxBackfillRounds,
			Debounce:   cfg.Debounce,
		}, logger)
		hooks = append(hooks, func(context.Context) { s.backfill.Reset() })
	}
	s.refresh = trigger.NewRefresh[T](coord, s.mount, logger, hooks...)

	logger.Debug().
		Int("page_size", coord.Config().PageSize).
		Bool("server_side_filter", cfg.ServerSideFilter).
		Msg("Synchronizer created")

	return s, nil
}

// ID returns the instance id used in log fields.
func (s *Synchronizer[T]) ID() uuid.UUID {
	return s.id
}

// Name returns the collection name.
func (s *Synchronizer[T]) Name() string {
	return s.config.Name
}

// Initialize loads the first page when the collection is empty and idle.
// It is the mount trigger and fires at most once per generation.
func (s *Synchronizer[T]) Initialize(ctx context.Context) (*pagination.Flight, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.mount.Activate(ctx)
}

// LoadMore loads the page at the cursor. It is the scroll trigger.
func (s *Synchronizer[T]) LoadMore(ctx context.Context) (*pagination.Flight, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.scroll.SentinelVisible(ctx)
}

// Refresh discards every cached item and loads the first page again.
func (s *Synchronizer[T]) Refresh(ctx context.Context) (*pagination.Flight, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.refresh.Fire(ctx)
}

// SetFilter changes the active filter. With a client-side filter the visible
// items change at once and backfill runs once the filter has been quiet for
// the debounce period. With a server-side filter the collection is reloaded
// after the debounce period.
func (s *Synchronizer[T]) SetFilter(text string) {
	if s.isClosed() {
		return
	}
	if !s.config.ServerSideFilter {
		s.backfill.OnFilterChanged(text)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filterTimer != nil {
		s.filterTimer.Stop()
	}
	s.filterTimer = time.AfterFunc(s.config.Debounce, func() {
		if !s.coord.State().SetFilter(text) {
			return
		}
		if _, err := s.Refresh(s.ctx); err != nil {
			s.logger.Debug().Err(err).Msg("Filter reload skipped")
		}
	})
}

// Snapshot returns a copy of the collection state.
func (s *Synchronizer[T]) Snapshot() collection.Snapshot[T] {
	return s.coord.State().Snapshot()
}

// Visible returns the cached items matching the active filter.
func (s *Synchronizer[T]) Visible() []T {
	snap := s.Snapshot()
	if s.config.ServerSideFilter {
		return snap.Items
	}
	return backfill.Filter(snap.Items, snap.Filter, s.config.Match)
}

// Subscribe registers fn for every state change and returns a func removing it.
func (s *Synchronizer[T]) Subscribe(fn collection.Observer[T]) func() {
	return s.coord.State().Subscribe(fn)
}

// Close stops pending filter work and cancels backfill requests.
func (s *Synchronizer[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.filterTimer != nil {
		s.filterTimer.Stop()
	}
	s.mu.Unlock()

	if s.backfill != nil {
		s.backfill.Stop()
	}
	s.cancel()

	s.logger.Debug().Msg("Synchronizer closed")
}

func (s *Synchronizer[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Synchronizer[T]) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to invalidate cached pages")
	}
}
