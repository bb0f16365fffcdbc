//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/Sternrassler/pagesync/internal/testutil"
	"github.com/Sternrassler/pagesync/pkg/cache"
	"github.com/Sternrassler/pagesync/pkg/client"
	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/Sternrassler/pagesync/pkg/ratelimit"
	"github.com/Sternrassler/pagesync/pkg/synchronizer"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

type replica struct {
	movies *synchronizer.Synchronizer[testutil.Movie]
}

// newReplica builds the full fetcher chain the proxy uses:
// Redis page cache -> Redis error budget + rate limit -> HTTP.
func newReplica(t *testing.T, mock *testutil.MockSource, redisClient *redis.Client, budget int) *replica {
	t.Helper()

	cfg := client.DefaultConfig(mock.URL(), "/api.php")
	cfg.Params = map[string]string{"gofor": "movies"}
	cfg.Retry.MaxRetries = 0

	httpFetcher, err := client.New[testutil.Movie](cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	tracker := ratelimit.NewRedisTracker(redisClient, httpFetcher.Source(), budget, time.Minute, zerolog.Nop())
	paced := ratelimit.NewFetcher[testutil.Movie](httpFetcher, tracker, ratelimit.Config{Source: "movies"}, zerolog.Nop())
	cached := cache.NewFetcher[testutil.Movie](paced, cache.NewRedisStore(redisClient), cache.Config{
		Source:    httpFetcher.Source(),
		StoreName: "redis",
	})

	movies, err := synchronizer.New[testutil.Movie](cached, synchronizer.Config[testutil.Movie]{
		Name:     "movies",
		Key:      testutil.MovieKey,
		Match:    testutil.MatchTitle,
		Debounce: 10 * time.Millisecond,
	}, synchronizer.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("synchronizer.New() error = %v", err)
	}
	t.Cleanup(movies.Close)

	return &replica{movies: movies}
}

func await(t *testing.T) func(*pagination.Flight, error) error {
	t.Helper()
	return func(f *pagination.Flight, err error) error {
		t.Helper()
		if err != nil {
			t.Fatalf("trigger error = %v", err)
		}
		select {
		case <-f.Done():
			return f.Wait()
		case <-time.After(5 * time.Second):
			t.Fatal("flight did not complete")
			return nil
		}
	}
}

// TestFullSyncFlow tests the complete flow: Cache -> Rate Limit -> Source -> Merge.
func TestFullSyncFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(45))

	a := newReplica(t, mock, redisClient, 20)
	ctx := context.Background()

	if err := await(t)(a.movies.Initialize(ctx)); err != nil {
		t.Fatalf("Initialize() flight error = %v", err)
	}
	for a.movies.Snapshot().HasMore {
		if err := await(t)(a.movies.LoadMore(ctx)); err != nil {
			t.Fatalf("LoadMore() flight error = %v", err)
		}
	}

	snap := a.movies.Snapshot()
	if len(snap.Items) != 45 || snap.Status != collection.StatusExhausted {
		t.Fatalf("snapshot = %d items, %s; want 45, exhausted", len(snap.Items), snap.Status)
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("upstream requests = %d, want 3", got)
	}

	// A second replica is served from the shared cache.
	b := newReplica(t, mock, redisClient, 20)
	if err := await(t)(b.movies.Initialize(ctx)); err != nil {
		t.Fatalf("replica Initialize() flight error = %v", err)
	}
	if got := len(b.movies.Snapshot().Items); got != 20 {
		t.Errorf("replica items = %d, want 20", got)
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("upstream requests after replica load = %d, want 3", got)
	}
}

func TestRefreshInvalidatesSharedCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(45))

	a := newReplica(t, mock, redisClient, 20)
	ctx := context.Background()

	if err := await(t)(a.movies.Initialize(ctx)); err != nil {
		t.Fatalf("Initialize() flight error = %v", err)
	}

	mock.RemoveItem("movies", "movie_id", 7)

	if err := await(t)(a.movies.Refresh(ctx)); err != nil {
		t.Fatalf("Refresh() flight error = %v", err)
	}
	snap := a.movies.Snapshot()
	if snap.TotalCount != 44 {
		t.Errorf("TotalCount = %d, want 44", snap.TotalCount)
	}
	for _, m := range snap.Items {
		if m.ID == 7 {
			t.Error("deleted movie still present after refresh")
		}
	}

	b := newReplica(t, mock, redisClient, 20)
	if err := await(t)(b.movies.Initialize(ctx)); err != nil {
		t.Fatalf("replica Initialize() flight error = %v", err)
	}
	if got := b.movies.Snapshot().TotalCount; got != 44 {
		t.Errorf("replica TotalCount = %d, want 44", got)
	}
}

func TestErrorBudgetSharedBetweenReplicas(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(45))
	for i := 0; i < 2; i++ {
		mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusBadGateway, Body: "bad gateway"})
	}

	a := newReplica(t, mock, redisClient, 2)
	b := newReplica(t, mock, redisClient, 2)
	ctx := context.Background()

	if err := await(t)(a.movies.Initialize(ctx)); err == nil {
		t.Fatal("expected first failure")
	}
	if err := await(t)(b.movies.Initialize(ctx)); err == nil {
		t.Fatal("expected second failure")
	}

	err := await(t)(a.movies.Refresh(ctx))
	if !errors.Is(err, ratelimit.ErrBlocked) {
		t.Fatalf("Refresh() flight error = %v, want ErrBlocked", err)
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("upstream requests = %d, want 2", got)
	}
	if a.movies.Snapshot().Status != collection.StatusError {
		t.Errorf("status = %s, want error", a.movies.Snapshot().Status)
	}
}

func TestSearchBackfillOverHTTP(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	movies := testutil.Movies(100)
	for _, id := range []int{3, 7, 25, 47, 90} {
		movies[id-1].Title = "Batman " + strconv.Itoa(id)
	}

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", movies)

	a := newReplica(t, mock, redisClient, 20)
	ctx := context.Background()

	if err := await(t)(a.movies.Initialize(ctx)); err != nil {
		t.Fatalf("Initialize() flight error = %v", err)
	}

	a.movies.SetFilter("batman")

	deadline := time.Now().Add(5 * time.Second)
	for len(a.movies.Visible()) < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	visible := a.movies.Visible()
	if len(visible) != 5 {
		t.Fatalf("visible = %d, want 5", len(visible))
	}
	if got := fmt.Sprint(testutil.MovieIDs(visible)); got != "[3 7 25 47 90]" {
		t.Errorf("visible ids = %s", got)
	}
	if q := mock.GetLastQuery(); q["searchtext"] != "" {
		t.Errorf("client-side filter sent to upstream: %v", q)
	}
}
