// Package backfill keeps a filtered view of a collection populated.
//
// When a client-side filter leaves fewer than MinVisible items visible while the
// source still has pages, the controller requests more pages, one per merge,
// until enough items match, the source is exhausted, or MaxRounds consecutive
// requests were spent on the current filter. Filter changes are debounced.
package backfill

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_backfill_rounds_total",
		Help: "Total page requests issued by search backfill",
	}, []string{"collection"})

	cappedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_backfill_capped_total",
		Help: "Total times backfill stopped at the round limit with too few visible items",
	}, []string{"collection"})
)

// Defaults from the list screens.
const (
	DefaultMinVisible = 5
	DefaultMaxRounds  = 5
	DefaultDebounce   = 300 * time.Millisecond
)

// MatchFunc reports whether item is visible under filter.
type MatchFunc[T any] func(item T, filter string) bool

// Coordinator is the part of pagination.Coordinator the controller drives.
type Coordinator[T any] interface {
	State() *collection.State[T]
	RequestMore(ctx context.Context) (*pagination.Flight, error)
	OnMerge(fn pagination.MergeListener[T]) func()
}

// Config holds backfill configuration.
type Config struct {
	// Name identifies the collection in logs and metric labels.
	Name string

	// MinVisible is the number of matching items the view wants to show.
	MinVisible int

	// MaxRounds bounds consecutive backfill requests per filter change.
	MaxRounds int

	// Debounce is the quiescence period after the last filter change.
	Debounce time.Duration
}

// DefaultConfig returns the default backfill configuration.
func DefaultConfig() Config {
	return Config{
		Name:       "collection",
		MinVisible: DefaultMinVisible,
		MaxRounds:  DefaultMaxRounds,
		Debounce:   DefaultDebounce,
	}
}

// Controller drives search backfill for one collection.
type Controller[T any] struct {
	ctx    context.Context
	coord  Coordinator[T]
	match  MatchFunc[T]
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	armed   bool
	rounds  int
	stopped bool

	stopMerge func()
}

// New creates a controller. Requests it issues use ctx.
func New[T any](ctx context.Context, coord Coordinator[T], match MatchFunc[T], config Config, logger zerolog.Logger) *Controller[T] {
	if match == nil {
		panic("match func cannot be nil")
	}
	if config.Name == "" {
		config.Name = "collection"
	}
	if config.MinVisible <= 0 {
		config.MinVisible = DefaultMinVisible
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = DefaultMaxRounds
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	c := &Controller[T]{
		ctx:    ctx,
		coord:  coord,
		match:  match,
		config: config,
		logger: logger.With().Str("collection", config.Name).Logger(),
	}
	c.stopMerge = coord.OnMerge(c.onMerge)
	return c
}

// OnFilterChanged stores text as the active filter and schedules an evaluation
// once the filter has been quiet for the debounce period. Each change starts a
// fresh round budget.
func (c *Controller[T]) OnFilterChanged(text string) {
	c.coord.State().SetFilter(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.seq++
	c.armed = false
	c.rounds = 0

	if c.timer != nil {
		c.timer.Stop()
	}
	seq := c.seq
	c.timer = time.AfterFunc(c.config.Debounce, func() { c.fire(seq) })
}

// Reset restarts the round budget, used when the collection is refreshed.
// An active filter stays armed so the refreshed pages are backfilled too.
func (c *Controller[T]) Reset() {
	filter := c.coord.State().Snapshot().Filter

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = 0
	c.armed = filter != "" && !c.stopped
}

// Stop cancels a pending evaluation and detaches from the coordinator.
func (c *Controller[T]) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.armed = false
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	c.stopMerge()
}

// Rounds returns the requests spent on the current filter.
func (c *Controller[T]) Rounds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rounds
}

// Visible returns the items of snap matching its filter.
func (c *Controller[T]) Visible(snap collection.Snapshot[T]) []T {
	return Filter(snap.Items, snap.Filter, c.match)
}

func (c *Controller[T]) fire(seq uint64) {
	c.mu.Lock()
	if c.stopped || seq != c.seq {
		c.mu.Unlock()
		return
	}
	c.armed = true
	c.mu.Unlock()

	c.evaluate(c.coord.State().Snapshot())
}

func (c *Controller[T]) onMerge(snap collection.Snapshot[T]) {
	c.evaluate(snap)
}

func (c *Controller[T]) evaluate(snap collection.Snapshot[T]) {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return
	}

	if snap.Filter == "" || !snap.HasMore {
		c.armed = false
		c.mu.Unlock()
		return
	}

	visible := len(Filter(snap.Items, snap.Filter, c.match))
	if visible >= c.config.MinVisible {
		c.armed = false
		c.mu.Unlock()
		c.logger.Debug().
			Str("filter", snap.Filter).
			Int("visible", visible).
			Int("rounds", c.rounds).
			Msg("Backfill satisfied")
		return
	}

	if snap.Status.InFlight() || snap.Status == collection.StatusIdle {
		// Evaluated again after the outstanding page merges.
		c.mu.Unlock()
		return
	}

	if c.rounds >= c.config.MaxRounds {
		c.armed = false
		rounds := c.rounds
		c.mu.Unlock()
		cappedTotal.WithLabelValues(c.config.Name).Inc()
		c.logger.Info().
			Str("filter", snap.Filter).
			Int("visible", visible).
			Int("rounds", rounds).
			Msg("Backfill stopped at round limit")
		return
	}

	c.rounds++
	round := c.rounds
	c.mu.Unlock()

	if _, err := c.coord.RequestMore(c.ctx); err != nil {
		c.mu.Lock()
		c.rounds--
		c.mu.Unlock()
		if !errors.Is(err, collection.ErrLogic) {
			c.logger.Warn().Err(err).Msg("Backfill request failed")
		}
		return
	}

	roundsTotal.WithLabelValues(c.config.Name).Inc()
	c.logger.Debug().
		Str("filter", snap.Filter).
		Int("visible", visible).
		Int("round", round).
		Int("cursor", snap.Cursor).
		Msg("Backfill requested more items")
}

// Filter returns the items matching filter. An empty filter matches everything.
func Filter[T any](items []T, filter string, match MatchFunc[T]) []T {
	if filter == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if match(item, filter) {
			out = append(out, item)
		}
	}
	return out
}

// ContainsFold returns a MatchFunc comparing text(item) and the filter as a
// case-insensitive substring.
func ContainsFold[T any](text func(T) string) MatchFunc[T] {
	return func(item T, filter string) bool {
		return strings.Contains(strings.ToLower(text(item)), strings.ToLower(filter))
	}
}
