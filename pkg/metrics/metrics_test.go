package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sternrassler/pagesync/internal/testutil"
	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestHandler(t *testing.T) {
	source := testutil.NewMemorySource(testutil.MovieKey, testutil.Movies(5))
	state := collection.NewState(testutil.MovieKey)
	cfg := pagination.DefaultConfig()
	cfg.Name = "metrics-test"
	coord := pagination.NewCoordinator[testutil.Movie](source, state, nil, cfg, zerolog.Nop())

	flight, err := coord.RequestInitial(context.Background())
	if err != nil {
		t.Fatalf("RequestInitial() error = %v", err)
	}
	flight.Wait()

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`pagesync_fetches_total{collection="metrics-test",mode="replace",outcome="merged"} 1`,
		`pagesync_items{collection="metrics-test"} 5`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
