package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/rs/zerolog"
)

// Fetcher is the transport collaborator that loads a single page.
// Items must come back in a stable, source-defined order for a given
// (offset, limit, filter). TotalKnown should be set whenever the source reports
// a total; without it hasMore falls back to the page length.
type Fetcher[T any] interface {
	FetchPage(ctx context.Context, req collection.PageRequest) (collection.PageResponse[T], error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[T any] func(ctx context.Context, req collection.PageRequest) (collection.PageResponse[T], error)

// FetchPage calls f.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, req collection.PageRequest) (collection.PageResponse[T], error) {
	return f(ctx, req)
}

// Flight is the handle of one issued page fetch.
type Flight struct {
	Mode       collection.MergeMode
	Request    collection.PageRequest
	Generation uint64

	done chan struct{}
	err  error
}

// Done is closed once the response has been merged, discarded or recorded as a failure.
func (f *Flight) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the flight completes. It returns nil when the page was
// merged, collection.ErrStale when it was discarded and the classified
// *collection.FetchError when the fetch failed.
func (f *Flight) Wait() error {
	<-f.done
	return f.err
}

// MergeListener is called after every page merged into the current generation.
type MergeListener[T any] func(collection.Snapshot[T])

// Coordinator issues bounded, single-flight fetches for one collection.
type Coordinator[T any] struct {
	fetcher  Fetcher[T]
	state    *collection.State[T]
	notifier Notifier
	config   Config
	logger   zerolog.Logger

	mu           sync.Mutex
	listeners    map[int]MergeListener[T]
	nextListener int
}

// NewCoordinator creates a coordinator for state.
func NewCoordinator[T any](fetcher Fetcher[T], state *collection.State[T], notifier Notifier, config Config, logger zerolog.Logger) *Coordinator[T] {
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	if state == nil {
		panic("state cannot be nil")
	}
	if notifier == nil {
		notifier = NopNotifier()
	}
	config = config.withDefaults()

	return &Coordinator[T]{
		fetcher:   fetcher,
		state:     state,
		notifier:  notifier,
		config:    config,
		logger:    logger.With().Str("collection", config.Name).Logger(),
		listeners: make(map[int]MergeListener[T]),
	}
}

// State returns the state driven by the coordinator.
func (c *Coordinator[T]) State() *collection.State[T] {
	return c.state
}

// Config returns the effective configuration.
func (c *Coordinator[T]) Config() Config {
	return c.config
}

// OnMerge registers fn for every successful merge and returns a func removing it.
func (c *Coordinator[T]) OnMerge(fn MergeListener[T]) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// RequestInitial fetches the first page and replaces the cached items.
// Returns collection.ErrInFlight without fetching while another fetch is outstanding.
func (c *Coordinator[T]) RequestInitial(ctx context.Context) (*Flight, error) {
	return c.request(ctx, collection.MergeReplace)
}

// RequestMore fetches the page at the current cursor and appends it.
// Returns a logic error without fetching while a fetch is outstanding, before
// the first page was requested, or once the collection is exhausted.
func (c *Coordinator[T]) RequestMore(ctx context.Context) (*Flight, error) {
	return c.request(ctx, collection.MergeAppend)
}

// Reset starts a new generation. Items are cleared, the cursor returns to 0 and
// any response still in flight will be discarded.
func (c *Coordinator[T]) Reset() uint64 {
	gen := c.state.Reset()
	cachedItems.WithLabelValues(c.config.Name).Set(0)

	c.logger.Info().
		Uint64("generation", gen).
		Msg("Collection reset")

	return gen
}

func (c *Coordinator[T]) request(ctx context.Context, mode collection.MergeMode) (*Flight, error) {
	req, gen, err := c.state.Begin(mode, c.config.PageSize)
	if err != nil {
		c.logger.Debug().
			Err(err).
			Str("mode", mode.String()).
			Msg("Fetch request ignored")
		return nil, err
	}
	if !c.config.ForwardFilter {
		req.Filter = ""
	}

	f := &Flight{
		Mode:       mode,
		Request:    req,
		Generation: gen,
		done:       make(chan struct{}),
	}

	c.logger.Debug().
		Str("mode", mode.String()).
		Int("offset", req.Offset).
		Int("limit", req.Limit).
		Str("filter", req.Filter).
		Uint64("generation", gen).
		Msg("Fetching page")

	go c.run(ctx, f)
	return f, nil
}

func (c *Coordinator[T]) run(ctx context.Context, f *Flight) {
	defer close(f.done)

	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	resp, err := c.fetch(fetchCtx, f.Request)
	cancel()
	fetchDuration.WithLabelValues(c.config.Name).Observe(time.Since(start).Seconds())

	if err == nil {
		err = validate(resp)
	}

	if err != nil {
		c.fail(f, err, time.Since(start))
		return
	}

	res := c.state.Apply(f.Generation, f.Mode, f.Request.Limit, resp)
	if !res.Applied {
		c.discard(f)
		return
	}

	fetchesTotal.WithLabelValues(c.config.Name, f.Mode.String(), outcomeMerged).Inc()
	cachedItems.WithLabelValues(c.config.Name).Set(float64(len(res.Snapshot.Items)))

	if res.TotalRaised {
		c.logger.Warn().
			Int("items", len(res.Snapshot.Items)).
			Msg("Source reported a total below the merged item count")
	}

	c.logger.Info().
		Str("mode", f.Mode.String()).
		Int("offset", f.Request.Offset).
		Int("returned", res.Returned).
		Int("cursor", res.Snapshot.Cursor).
		Bool("has_more", res.Snapshot.HasMore).
		Str("status", res.Snapshot.Status.String()).
		Dur("duration", time.Since(start)).
		Msg("Page merged")

	for _, fn := range c.mergeListeners() {
		fn(res.Snapshot)
	}
}

// fetch calls the Fetcher and turns a panic into a transport failure.
func (c *Coordinator[T]) fetch(ctx context.Context, req collection.PageRequest) (resp collection.PageResponse[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = collection.TransportError("fetch page", fmt.Errorf("fetcher panic: %v", r))
		}
	}()
	return c.fetcher.FetchPage(ctx, req)
}

func (c *Coordinator[T]) fail(f *Flight, err error, elapsed time.Duration) {
	fe := collection.AsFetchError("fetch page", err)

	if !c.state.Fail(f.Generation) {
		c.discard(f)
		return
	}

	f.err = fe
	fetchesTotal.WithLabelValues(c.config.Name, f.Mode.String(), outcomeError).Inc()

	c.logger.Warn().
		Err(fe).
		Str("mode", f.Mode.String()).
		Int("offset", f.Request.Offset).
		Str("error_class", string(fe.Class)).
		Dur("duration", elapsed).
		Msg("Page fetch failed")

	c.notify(fe)
}

func (c *Coordinator[T]) discard(f *Flight) {
	f.err = collection.ErrStale
	fetchesTotal.WithLabelValues(c.config.Name, f.Mode.String(), outcomeStale).Inc()
	staleResponsesTotal.WithLabelValues(c.config.Name).Inc()

	c.logger.Debug().
		Uint64("generation", f.Generation).
		Int("offset", f.Request.Offset).
		Msg("Discarded stale response")
}

func (c *Coordinator[T]) notify(err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Msg("Notifier panicked")
		}
	}()
	c.notifier.NotifyError(c.config.Name, err)
}

func (c *Coordinator[T]) mergeListeners() []MergeListener[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]MergeListener[T], 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}

func validate[T any](resp collection.PageResponse[T]) error {
	if resp.TotalKnown && resp.TotalCount < 0 {
		return collection.ShapeError("fetch page", fmt.Errorf("negative total count %d", resp.TotalCount))
	}
	return nil
}
