package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/pagesync/pkg/cache"
	"github.com/Sternrassler/pagesync/pkg/client"
	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/metrics"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/Sternrassler/pagesync/pkg/ratelimit"
	"github.com/Sternrassler/pagesync/pkg/synchronizer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Item is one upstream record as decoded from JSON.
type Item map[string]any

// view is the JSON representation of a collection.
type view struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Items      []Item `json:"items"`
	Visible    int    `json:"visible"`
	Cached     int    `json:"cached"`
	Cursor     int    `json:"cursor"`
	HasMore    bool   `json:"has_more"`
	Loading    bool   `json:"loading"`
	TotalCount *int   `json:"total_count"`
	Generation uint64 `json:"generation"`
	Filter     string `json:"filter"`
	Error      string `json:"error,omitempty"`
}

type server struct {
	collections map[string]*synchronizer.Synchronizer[Item]
	redis       *redis.Client
	waitTimeout time.Duration
	logger      zerolog.Logger
}

func itemKey(field string) collection.KeyFunc[Item] {
	return func(item Item) string {
		return fmt.Sprint(item[field])
	}
}

// keyedFetcher rejects pages containing records without a key, which would
// otherwise all merge into one item.
type keyedFetcher struct {
	inner pagination.Fetcher[Item]
	field string
}

func (f keyedFetcher) FetchPage(ctx context.Context, req collection.PageRequest) (collection.PageResponse[Item], error) {
	resp, err := f.inner.FetchPage(ctx, req)
	if err != nil {
		return resp, err
	}
	for i, item := range resp.Items {
		if item[f.field] == nil {
			return collection.PageResponse[Item]{}, collection.ShapeError("fetch page",
				fmt.Errorf("record %d at offset %d has no %q", i, req.Offset+i, f.field))
		}
	}
	return resp, nil
}

func itemMatch(field string) func(Item, string) bool {
	return func(item Item, filter string) bool {
		text, _ := item[field].(string)
		return strings.Contains(strings.ToLower(text), strings.ToLower(filter))
	}
}

// newFetcher builds the fetcher chain of one collection:
// page cache -> rate limit -> key check -> HTTP.
func newFetcher(cfg Config, col CollectionConfig, store cache.Store, redisClient *redis.Client, logger zerolog.Logger) (pagination.Fetcher[Item], error) {
	ccfg := client.DefaultConfig(cfg.UpstreamURL, cfg.UpstreamPath)
	ccfg.Params = map[string]string{cfg.ResourceParam: col.Resource}
	ccfg.UserAgent = cfg.UserAgent
	ccfg.Retry.MaxRetries = cfg.MaxRetries

	httpFetcher, err := client.New[Item](ccfg)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", col.Name, err)
	}
	source := httpFetcher.Source()

	var tracker ratelimit.Tracker = ratelimit.NewMemoryTracker(cfg.ErrorBudget, 0)
	storeName := "memory"
	if redisClient != nil {
		tracker = ratelimit.NewRedisTracker(redisClient, source, cfg.ErrorBudget, 0, logger)
		storeName = "redis"
	}

	rcfg := ratelimit.DefaultConfig(col.Name)
	rcfg.RequestsPerSecond = cfg.RateLimit
	rcfg.Burst = cfg.RateBurst
	keyed := keyedFetcher{inner: httpFetcher, field: col.KeyField}
	paced := ratelimit.NewFetcher[Item](keyed, tracker, rcfg, logger)

	return cache.NewFetcher[Item](paced, store, cache.Config{
		Source:    source,
		StoreName: storeName,
		TTL:       cfg.CacheTTL,
	}), nil
}

func newServer(cfg Config, store cache.Store, redisClient *redis.Client, logger zerolog.Logger) (*server, error) {
	s := &server{
		collections: make(map[string]*synchronizer.Synchronizer[Item], len(cfg.Collections)),
		redis:       redisClient,
		waitTimeout: 30 * time.Second,
		logger:      logger,
	}

	for _, col := range cfg.Collections {
		fetcher, err := newFetcher(cfg, col, store, redisClient, logger)
		if err != nil {
			s.Close()
			return nil, err
		}

		syncer, err := synchronizer.New[Item](fetcher, synchronizer.Config[Item]{
			Name:              col.Name,
			Key:               itemKey(col.KeyField),
			Match:             itemMatch(col.TextField),
			PageSize:          cfg.PageSize,
			MinVisible:        cfg.MinVisible,
			MaxBackfillRounds: cfg.MaxBackfillRounds,
			Debounce:          cfg.Debounce,
			ServerSideFilter:  col.ServerFilter,
		}, synchronizer.WithLogger(logger))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.collections[col.Name] = syncer
	}

	return s, nil
}

// Close stops every synchronizer.
func (s *server) Close() {
	for _, syncer := range s.collections {
		syncer.Close()
	}
}

func (s *server) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/health", healthHandler)
	router.Get("/ready", s.ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Get("/collections", s.list)
	router.Route("/collections/{name}", func(r chi.Router) {
		r.Get("/", s.get)
		r.Post("/init", s.trigger((*synchronizer.Synchronizer[Item]).Initialize))
		r.Post("/more", s.trigger((*synchronizer.Synchronizer[Item]).LoadMore))
		r.Post("/refresh", s.trigger((*synchronizer.Synchronizer[Item]).Refresh))
		r.Put("/filter", s.filter)
	})

	return router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) ready(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "READY")
}

func (s *server) list(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string][]string{"collections": names})
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*synchronizer.Synchronizer[Item], bool) {
	name := chi.URLParam(r, "name")
	syncer, ok := s.collections[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown collection %q", name), http.StatusNotFound)
	}
	return syncer, ok
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	syncer, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, render(syncer, nil))
}

// trigger runs op and waits for its page. The fetch outlives the request so
// a client disconnect does not fail the collection.
func (s *server) trigger(op func(*synchronizer.Synchronizer[Item], context.Context) (*pagination.Flight, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		syncer, ok := s.lookup(w, r)
		if !ok {
			return
		}

		flight, err := op(syncer, context.WithoutCancel(r.Context()))
		if err != nil {
			writeJSON(w, http.StatusConflict, render(syncer, err))
			return
		}

		timer := time.NewTimer(s.waitTimeout)
		defer timer.Stop()
		select {
		case <-flight.Done():
		case <-r.Context().Done():
			return
		case <-timer.C:
			writeJSON(w, http.StatusAccepted, render(syncer, nil))
			return
		}

		if err := flight.Wait(); err != nil && !errors.Is(err, collection.ErrStale) {
			writeJSON(w, http.StatusBadGateway, render(syncer, err))
			return
		}
		writeJSON(w, http.StatusOK, render(syncer, nil))
	}
}

func (s *server) filter(w http.ResponseWriter, r *http.Request) {
	syncer, ok := s.lookup(w, r)
	if !ok {
		return
	}
	syncer.SetFilter(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusAccepted, render(syncer, nil))
}

func render(syncer *synchronizer.Synchronizer[Item], err error) view {
	snap := syncer.Snapshot()
	visible := syncer.Visible()
	if visible == nil {
		visible = []Item{}
	}

	v := view{
		Name:       syncer.Name(),
		Status:     snap.Status.String(),
		Items:      visible,
		Visible:    len(visible),
		Cached:     len(snap.Items),
		Cursor:     snap.Cursor,
		HasMore:    snap.HasMore,
		Loading:    snap.Loading,
		Generation: snap.Generation,
		Filter:     snap.Filter,
	}
	if snap.TotalKnown {
		total := snap.TotalCount
		v.TotalCount = &total
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
