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

func withRetries(n int) func(*Config) {
	return func(c *Config) {
		c.Retry.MaxRetries = n
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", config.MaxRetries)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", config.MaxBackoff)
	}
}

func TestRetry_NoRetryByDefault(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(5))
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusServiceUnavailable})

	_, err := newMovieFetcher(t, mock).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRetryExhausted))
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestRetry_SuccessAfterServerError(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(5))
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusInternalServerError})
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusBadGateway})

	resp, err := newMovieFetcher(t, mock, withRetries(3)).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 5)
	assert.Equal(t, 3, mock.GetRequestCount())
}

func TestRetry_RateLimitRetried(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(5))
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusTooManyRequests})

	_, err := newMovieFetcher(t, mock, withRetries(1)).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GetRequestCount())
}

func TestRetry_ErrorEnvelopeRetried(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetMovies("movies", testutil.Movies(5))
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `{"status":"error"}`})

	_, err := newMovieFetcher(t, mock, withRetries(2)).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GetRequestCount())
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusBadRequest})

	_, err := newMovieFetcher(t, mock, withRetries(3)).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRetryExhausted))
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestRetry_ShapeErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusOK, Body: `{"total_count":1}`})

	_, err := newMovieFetcher(t, mock, withRetries(3)).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	assert.Equal(t, collection.ErrorClassShape, collection.Classify(err))
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestRetry_Exhausted(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	for i := 0; i < 3; i++ {
		mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusServiceUnavailable})
	}

	_, err := newMovieFetcher(t, mock, withRetries(2)).FetchPage(context.Background(), collection.PageRequest{Limit: 20})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetryExhausted))

	var fe *collection.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, collection.ErrorClassTransport, fe.Class)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.Equal(t, 3, mock.GetRequestCount())
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	for i := 0; i < 5; i++ {
		mock.PushResponse(testutil.MockSourceResponse{StatusCode: http.StatusServiceUnavailable})
	}

	f := newMovieFetcher(t, mock, withRetries(5), func(c *Config) {
		c.Retry.InitialBackoff = time.Second
		c.Retry.MaxBackoff = time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.FetchPage(ctx, collection.PageRequest{Limit: 20})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, collection.ErrorClassTransport, collection.Classify(err))
	assert.Equal(t, 1, mock.GetRequestCount())
}
