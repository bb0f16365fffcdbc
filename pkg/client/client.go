// Package client provides an HTTP page fetcher for list endpoints of the form
//
//	GET <BaseURL><Path>?<Params>&limit=<n>&offset=<n>[&searchtext=<filter>]
//
// answering {"status": "success", "data": [...], "total_count": N}.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_http_requests_total",
		Help: "Total page requests by HTTP status",
	}, []string{"status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagesync_http_request_duration_seconds",
		Help:    "Page request duration in seconds by path",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagesync_http_errors_total",
		Help: "Total page request errors by class",
	}, []string{"class"})
)

// Config holds the fetcher configuration.
type Config struct {
	// BaseURL of the API, e.g. "https://api.example.com". Required.
	BaseURL string

	// Path of the list endpoint, e.g. "/api.php". Required.
	Path string

	// Params are sent with every request, e.g. {"gofor": "movies"}.
	Params map[string]string

	// Query parameter names.
	LimitParam  string
	OffsetParam string
	FilterParam string

	// Response field names.
	ItemsField  string
	TotalField  string
	StatusField string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Retry configures transport retries.
	Retry RetryConfig
}

// DefaultConfig returns the configuration for list endpoints shaped like
// GET /api.php?gofor=<resource>&limit=<n>&offset=<n> -> {"data": [...], "total_count": N}.
func DefaultConfig(baseURL, path string) Config {
	return Config{
		BaseURL:     baseURL,
		Path:        path,
		LimitParam:  "limit",
		OffsetParam: "offset",
		FilterParam: "searchtext",
		ItemsField:  "data",
		TotalField:  "total_count",
		StatusField: "status",
		UserAgent:   "pagesync/1.0",
		Timeout:     30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.BaseURL, c.Path)
	if c.LimitParam == "" {
		c.LimitParam = d.LimitParam
	}
	if c.OffsetParam == "" {
		c.OffsetParam = d.OffsetParam
	}
	if c.FilterParam == "" {
		c.FilterParam = d.FilterParam
	}
	if c.ItemsField == "" {
		c.ItemsField = d.ItemsField
	}
	if c.TotalField == "" {
		c.TotalField = d.TotalField
	}
	if c.StatusField == "" {
		c.StatusField = d.StatusField
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = d.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = d.Retry.MaxBackoff
	}
	return c
}

// HTTPFetcher loads pages of T from a list endpoint. It implements
// pagination.Fetcher.
type HTTPFetcher[T any] struct {
	http   *resty.Client
	config Config
	source string
	logger zerolog.Logger
}

// New creates a fetcher for the endpoint described by cfg.
func New[T any](cfg Config) (*HTTPFetcher[T], error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}
	cfg = cfg.withDefaults()

	logger := log.With().Str("component", "page-client").Logger()

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &HTTPFetcher[T]{
		http:   httpClient,
		config: cfg,
		source: sourceID(cfg),
		logger: logger,
	}, nil
}

// Source identifies the endpoint and fixed params, for cache keys.
func (f *HTTPFetcher[T]) Source() string {
	return f.source
}

// FetchPage requests one page. Network errors, timeouts, non-2xx responses and
// error envelopes are transport failures; a body without a decodable items
// field is a shape failure.
func (f *HTTPFetcher[T]) FetchPage(ctx context.Context, req collection.PageRequest) (collection.PageResponse[T], error) {
	if err := req.Validate(); err != nil {
		return collection.PageResponse[T]{}, collection.ShapeError("fetch page", err)
	}

	params := make(map[string]string, len(f.config.Params)+3)
	for k, v := range f.config.Params {
		params[k] = v
	}
	params[f.config.LimitParam] = strconv.Itoa(req.Limit)
	params[f.config.OffsetParam] = strconv.Itoa(req.Offset)
	if req.Filter != "" {
		params[f.config.FilterParam] = req.Filter
	}

	startTime := time.Now()
	defer func() {
		httpRequestDuration.WithLabelValues(f.config.Path).Observe(time.Since(startTime).Seconds())
	}()

	f.logger.Debug().
		Str("endpoint", f.config.Path).
		Int("offset", req.Offset).
		Int("limit", req.Limit).
		Msg("Executing page request")

	var resp collection.PageResponse[T]
	err := f.retryWithBackoff(ctx, func() error {
		body, reqErr := f.do(ctx, params)
		if reqErr != nil {
			return reqErr
		}
		resp, reqErr = f.decode(body)
		return reqErr
	})
	if err != nil {
		var shapeErr *shapeError
		if errors.As(err, &shapeErr) {
			f.logger.Warn().
				Err(shapeErr.err).
				Str("endpoint", f.config.Path).
				Msg("Undecodable page response")
			return collection.PageResponse[T]{}, collection.ShapeError("decode page", shapeErr.err)
		}
		return collection.PageResponse[T]{}, transportError(err)
	}
	return resp, nil
}

// do performs one HTTP attempt and returns the body of a 2xx response.
func (f *HTTPFetcher[T]) do(ctx context.Context, params map[string]string) ([]byte, error) {
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(f.config.Path)
	if err != nil {
		httpErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		httpRequestsTotal.WithLabelValues("network_error").Inc()
		f.logger.Warn().Err(err).Str("endpoint", f.config.Path).Msg("HTTP request failed")
		return nil, &HTTPError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	httpRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode())).Inc()

	if resp.IsError() || resp.StatusCode() >= 300 {
		class := classifyStatus(resp.StatusCode())
		if class == "" {
			class = ErrorClassServer
		}
		httpErrorsTotal.WithLabelValues(string(class)).Inc()
		f.logger.Warn().
			Str("endpoint", f.config.Path).
			Int("status_code", resp.StatusCode()).
			Str("error_class", string(class)).
			Msg("Page request error")
		return nil, &HTTPError{
			StatusCode: resp.StatusCode(),
			ErrorClass: class,
			Message:    resp.Status(),
		}
	}

	return resp.Body(), nil
}

// decode parses a page body. The total may be a number or a numeric string;
// a missing or null total leaves it unknown. An error status in the envelope
// is reported as a server error.
func (f *HTTPFetcher[T]) decode(body []byte) (collection.PageResponse[T], error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return collection.PageResponse[T]{}, &shapeError{fmt.Errorf("decode envelope: %w", err)}
	}

	if raw, ok := envelope[f.config.StatusField]; ok && isErrorStatus(raw) {
		httpErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		message := "source reported an error"
		var m string
		if json.Unmarshal(envelope["message"], &m) == nil && m != "" {
			message = m
		}
		return collection.PageResponse[T]{}, &HTTPError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassServer,
			Message:    message,
		}
	}

	raw, ok := envelope[f.config.ItemsField]
	if !ok {
		return collection.PageResponse[T]{}, &shapeError{fmt.Errorf("missing %q field", f.config.ItemsField)}
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return collection.PageResponse[T]{}, &shapeError{fmt.Errorf("decode %q: %w", f.config.ItemsField, err)}
	}
	if items == nil {
		items = []T{}
	}

	resp := collection.PageResponse[T]{Items: items}

	rawTotal, ok := envelope[f.config.TotalField]
	if !ok || string(rawTotal) == "null" {
		return resp, nil
	}
	total, err := parseTotal(rawTotal)
	if err != nil {
		return collection.PageResponse[T]{}, &shapeError{fmt.Errorf("decode %q: %w", f.config.TotalField, err)}
	}
	resp.TotalCount = total
	resp.TotalKnown = true
	return resp, nil
}

// shapeError marks a response that arrived but could not be decoded.
type shapeError struct {
	err error
}

func (e *shapeError) Error() string {
	return e.err.Error()
}

func (e *shapeError) Unwrap() error {
	return e.err
}

func parseTotal(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		v, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, fmt.Errorf("not an integer: %s", n)
		}
		return v, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unsupported total %s", raw)
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return v, nil
}

func isErrorStatus(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(s, "error") || strings.EqualFold(s, "fail")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return !b
	}
	return false
}

// transportError converts a request failure into a collection.FetchError.
func transportError(err error) *collection.FetchError {
	fe := collection.TransportError("fetch page", err)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		fe.StatusCode = httpErr.StatusCode
	}
	return fe
}

func sourceID(cfg Config) string {
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.TrimRight(cfg.BaseURL, "/"))
	b.WriteString(cfg.Path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(cfg.Params[k]))
	}
	return b.String()
}
