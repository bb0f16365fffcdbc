package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/pagesync/internal/testutil"
	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMovieFetcher(t *testing.T, mock *testutil.MockSource, mutate ...func(*Config)) *HTTPFetcher[testutil.Movie] {
	t.Helper()
	cfg := DefaultConfig(mock.URL(), "/api.php")
	cfg.Params = map[string]string{"gofor": "movies"}
	cfg.Timeout = time.Second
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond
	for _, fn := range mutate {
		fn(&cfg)
	}
	f, err := New[testutil.Movie](cfg)
	require.NoError(t, err)
	return f
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("http://localhost:8080", "/api.php"),
		},
		{
			name:     "missing base url",
			config:   DefaultConfig("", "/api.php"),
			errorMsg: "base url is required",
		},
		{
			name:     "relative base url",
			config:   DefaultConfig("localhost", "/api.php"),
			errorMsg: "invalid base url",
		},
		{
			name:     "missing path",
			config:   DefaultConfig("http://localhost:8080", ""),
			errorMsg: "path is required",
		},
		{
			name: "negative retries",
			config: func() Config {
				c := DefaultConfig("http://localhost:8080", "/api.php")
				c.Retry.MaxRetries = -1
				return c
			}(),
			errorMsg: "max_retries must be >= 0 (got -1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New[testutil.Movie](tt.config)
			if tt.errorMsg == "" {
				require.NoError(t, err)
				assert.NotNil(t, f)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("http://api", "/api.php")

	if cfg.LimitParam != "limit" || cfg.OffsetParam != "offset" || cfg.FilterParam != "searchtext" {
		t.Errorf("Unexpected query params: %+v", cfg)
	}
	if cfg.ItemsField != "data" || cfg.TotalField != "total_count" {
		t.Errorf("Unexpected response fields: %+v", cfg)
	}
	if cfg.Retry.MaxRetries != 0 {
		t.Errorf("Expected retries disabled by default, got %d", cfg.Retry.MaxRetries)
	}
}

func TestFetchPage_Page(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(45))

	f := newMovieFetcher(t, mock)

	resp, err := f.FetchPage(context.Background(), collection.PageRequest{Offset: 40, Limit: 20})
	require.NoError(t, err)

	assert.Equal(t, []int{41, 42, 43, 44, 45}, testutil.MovieIDs(resp.Items))
	assert.Equal(t, "Movie 41", resp.Items[0].Title)
	assert.True(t, resp.TotalKnown)
	assert.Equal(t, 45, resp.TotalCount)

	query := mock.GetLastQuery()
	assert.Equal(t, map[string]string{"gofor": "movies", "limit": "20", "offset": "40"}, query)
}

func TestFetchPage_ServerFilter(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	movies := testutil.Movies(30)
	movies[4].Title = "Batman Returns"
	mock.SetMovies("movies", movies)

	f := newMovieFetcher(t, mock)

	resp, err := f.FetchPage(context.Background(), collection.PageRequest{Limit: 20, Filter: "batman"})
	require.NoError(t, err)

	assert.Equal(t, []int{5}, testutil.MovieIDs(resp.Items))
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "batman", mock.GetLastQuery()["searchtext"])
}

func TestFetchPage_TotalVariants(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*testutil.MockSource)
		wantKnown bool
	}{
		{"numeric total", func(*testutil.MockSource) {}, true},
		{"string total", (*testutil.MockSource).TotalAsString, true},
		{"missing total", (*testutil.MockSource).OmitTotal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockSource()
			defer mock.Close()
			mock.SetMovies("movies", testutil.Movies(25))
			tt.setup(mock)

			resp, err := newMovieFetcher(t, mock).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
			require.NoError(t, err)
			assert.Len(t, resp.Items, 20)
			assert.Equal(t, tt.wantKnown, resp.TotalKnown)
			if tt.wantKnown {
				assert.Equal(t, 25, resp.TotalCount)
			}
		})
	}
}

func TestFetchPage_Failures(t *testing.T) {
	tests := []struct {
		name       string
		response   testutil.MockSourceResponse
		wantClass  collection.ErrorClass
		wantStatus int
	}{
		{
			name:       "server error",
			response:   testutil.MockSourceResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"boom"}`},
			wantClass:  collection.ErrorClassTransport,
			wantStatus: 500,
		},
		{
			name:       "not found",
			response:   testutil.MockSourceResponse{StatusCode: http.StatusNotFound, Body: `{}`},
			wantClass:  collection.ErrorClassTransport,
			wantStatus: 404,
		},
		{
			name:       "error envelope",
			response:   testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `{"status":"error","message":"session expired"}`},
			wantClass:  collection.ErrorClassTransport,
			wantStatus: 200,
		},
		{
			name:      "missing data field",
			response:  testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `{"status":"success","total_count":3}`},
			wantClass: collection.ErrorClassShape,
		},
		{
			name:      "data is not a list",
			response:  testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `{"data":{"movie_id":1}}`},
			wantClass: collection.ErrorClassShape,
		},
		{
			name:      "not json",
			response:  testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `<html>maintenance</html>`},
			wantClass: collection.ErrorClassShape,
		},
		{
			name:      "total is not a number",
			response:  testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `{"data":[],"total_count":"many"}`},
			wantClass: collection.ErrorClassShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockSource()
			defer mock.Close()
			mock.PushResponse(tt.response)

			_, err := newMovieFetcher(t, mock).FetchPage(context.Background(), collection.PageRequest{Limit: 20})

			var fe *collection.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantClass, fe.Class)
			assert.Equal(t, tt.wantStatus, fe.StatusCode)
			assert.Equal(t, 1, mock.GetRequestCount())
		})
	}
}

func TestFetchPage_NullDataIsEmptyPage(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `{"data":null,"total_count":0}`})

	resp, err := newMovieFetcher(t, mock).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)
	assert.True(t, resp.TotalKnown)
}

func TestFetchPage_NetworkError(t *testing.T) {
	mock := testutil.NewMockSource()
	url := mock.URL()
	mock.Close()

	cfg := DefaultConfig(url, "/api.php")
	cfg.Timeout = time.Second
	f, err := New[testutil.Movie](cfg)
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), collection.PageRequest{Limit: 20})

	var fe *collection.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, collection.ErrorClassTransport, fe.Class)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, ErrorClassNetwork, httpErr.ErrorClass)
}

func TestFetchPage_Timeout(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(5))
	mock.SetDelay(200 * time.Millisecond)

	f := newMovieFetcher(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.FetchPage(ctx, collection.PageRequest{Limit: 20})
	assert.Equal(t, collection.ErrorClassTransport, collection.Classify(err))
}

func TestFetchPage_InvalidRequest(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()

	_, err := newMovieFetcher(t, mock).FetchPage(context.Background(), collection.PageRequest{Limit: 0})
	assert.Equal(t, collection.ErrorClassShape, collection.Classify(err))
	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestFetchPage_CustomFields(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.PushResponse(testutil.MockSourceResponse{
		StatusCode: http.StatusOK,
		Body:       `{"items":[{"movie_id":7,"title":"Heat"}],"count":"1"}`,
	})

	f := newMovieFetcher(t, mock, func(c *Config) {
		c.ItemsField = "items"
		c.TotalField = "count"
	})

	resp, err := f.FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, []testutil.Movie{{ID: 7, Title: "Heat"}}, resp.Items)
	assert.Equal(t, 1, resp.TotalCount)
}

func TestSource(t *testing.T) {
	a, err := New[testutil.Movie](Config{
		BaseURL: "http://api/",
		Path:    "/api.php",
		Params:  map[string]string{"gofor": "movies", "lang": "en"},
	})
	require.NoError(t, err)
	b, err := New[testutil.Movie](Config{
		BaseURL: "http://api",
		Path:    "/api.php",
		Params:  map[string]string{"lang": "en", "gofor": "movies"},
	})
	require.NoError(t, err)

	assert.Equal(t, "http://api/api.php?gofor=movies&lang=en", a.Source())
	assert.Equal(t, a.Source(), b.Source())
}

func TestParseTotal(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{`45`, 45, false},
		{`"45"`, 45, false},
		{`" 12 "`, 12, false},
		{`4.5`, 0, true},
		{`"abc"`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		got, err := parseTotal([]byte(tt.raw))
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTotal(%s) expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseTotal(%s) = %d, %v; want %d", tt.raw, got, err, tt.want)
		}
	}
}

func TestIsErrorStatus(t *testing.T) {
	tests := map[string]bool{
		`"success"`: false,
		`"error"`:   true,
		`"ERROR"`:   true,
		`true`:      false,
		`false`:     true,
		`1`:         false,
	}

	for raw, want := range tests {
		if got := isErrorStatus([]byte(raw)); got != want {
			t.Errorf("isErrorStatus(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestTransportError_KeepsStatus(t *testing.T) {
	err := transportError(&HTTPError{StatusCode: 502, ErrorClass: ErrorClassServer, Message: "bad gateway"})
	assert.Equal(t, 502, err.StatusCode)
	assert.Equal(t, collection.ErrorClassTransport, err.Class)

	err = transportError(errors.New("context canceled"))
	assert.Equal(t, 0, err.StatusCode)
}
