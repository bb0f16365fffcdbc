package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockSourceResponse overrides the next response of a MockSource.
type MockSourceResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockSource is an httptest server speaking the list API of the mobile backend:
//
//	GET /api.php?gofor=<resource>&limit=<n>&offset=<n>[&searchtext=<q>]
//	-> {"data": [...], "total_count": N}
type MockSource struct {
	server *httptest.Server

	mu        sync.Mutex
	resources map[string][]map[string]any
	overrides []MockSourceResponse
	totalStr  bool
	omitTotal bool
	delay     time.Duration

	// Tracking
	RequestCount int
	LastQuery    map[string]string
}

// NewMockSource starts a mock list API server.
func NewMockSource() *MockSource {
	m := &MockSource{
		resources: make(map[string][]map[string]any),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the base URL of the server.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockSource) Close() {
	m.server.Close()
}

// SetItems sets the items served for resource.
func (m *MockSource) SetItems(resource string, items []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[resource] = items
}

// SetMovies serves movies for resource.
func (m *MockSource) SetMovies(resource string, movies []Movie) {
	items := make([]map[string]any, 0, len(movies))
	for _, mv := range movies {
		items = append(items, map[string]any{"movie_id": mv.ID, "title": mv.Title})
	}
	m.SetItems(resource, items)
}

// RemoveItem deletes the item of resource whose field equals value.
func (m *MockSource) RemoveItem(resource, field string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]map[string]any, 0, len(m.resources[resource]))
	for _, item := range m.resources[resource] {
		if item[field] != value {
			kept = append(kept, item)
		}
	}
	m.resources[resource] = kept
}

// PushResponse makes the next request return resp instead of a page.
func (m *MockSource) PushResponse(resp MockSourceResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = append(m.overrides, resp)
}

// TotalAsString serves total_count as a numeric string, as some endpoints do.
func (m *MockSource) TotalAsString() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalStr = true
}

// OmitTotal drops total_count from responses.
func (m *MockSource) OmitTotal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitTotal = true
}

// SetDelay delays every page response.
func (m *MockSource) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// GetRequestCount returns the number of requests served.
func (m *MockSource) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetLastQuery returns the query of the last request.
func (m *MockSource) GetLastQuery() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.LastQuery))
	for k, v := range m.LastQuery {
		out[k] = v
	}
	return out
}

func (m *MockSource) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m.mu.Lock()
	m.RequestCount++
	m.LastQuery = make(map[string]string, len(q))
	for k := range q {
		m.LastQuery[k] = q.Get(k)
	}
	var override *MockSourceResponse
	if len(m.overrides) > 0 {
		o := m.overrides[0]
		m.overrides = m.overrides[1:]
		override = &o
	}
	delay := m.delay
	items := m.resources[q.Get("gofor")]
	totalStr, omitTotal := m.totalStr, m.omitTotal
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if override != nil {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		w.WriteHeader(override.StatusCode)
		w.Write([]byte(override.Body))
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	if search := strings.ToLower(q.Get("searchtext")); search != "" {
		filtered := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if title, ok := item["title"].(string); ok && strings.Contains(strings.ToLower(title), search) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	page := []map[string]any{}
	if offset < len(items) {
		end := offset + limit
		if end > len(items) {
			end = len(items)
		}
		page = items[offset:end]
	}

	body := map[string]any{"status": "success", "data": page}
	if !omitTotal {
		if totalStr {
			body["total_count"] = strconv.Itoa(len(items))
		} else {
			body["total_count"] = len(items)
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
