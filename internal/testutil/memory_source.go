// Package testutil provides test sources for paginated collections.
package testutil

import (
	"context"
	"sync"

	"github.com/Sternrassler/pagesync/pkg/collection"
)

// MemorySource is an in-process paginated source for tests. It implements
// pagination.Fetcher and can hold fetches until released.
type MemorySource[T any] struct {
	mu          sync.Mutex
	items       []T
	key         collection.KeyFunc[T]
	match       func(item T, filter string) bool
	reportTotal bool
	calls       []collection.PageRequest
	failures    []error
	gate        chan struct{}
	started     chan collection.PageRequest
}

// NewMemorySource creates a source serving items in order, reporting totals.
func NewMemorySource[T any](key collection.KeyFunc[T], items []T) *MemorySource[T] {
	cp := make([]T, len(items))
	copy(cp, items)
	return &MemorySource[T]{
		items:       cp,
		key:         key,
		reportTotal: true,
		started:     make(chan collection.PageRequest, 64),
	}
}

// WithoutTotal makes the source omit the total count.
func (s *MemorySource[T]) WithoutTotal() *MemorySource[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportTotal = false
	return s
}

// WithServerFilter makes the source apply PageRequest.Filter with match.
func (s *MemorySource[T]) WithServerFilter(match func(item T, filter string) bool) *MemorySource[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.match = match
	return s
}

// FetchPage serves one page.
func (s *MemorySource[T]) FetchPage(ctx context.Context, req collection.PageRequest) (collection.PageResponse[T], error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	gate := s.gate
	var failure error
	if len(s.failures) > 0 {
		failure = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	select {
	case s.started <- req:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return collection.PageResponse[T]{}, collection.TransportError("fetch page", ctx.Err())
		}
	}

	if failure != nil {
		return collection.PageResponse[T]{}, failure
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.items
	if s.match != nil && req.Filter != "" {
		source = make([]T, 0, len(s.items))
		for _, item := range s.items {
			if s.match(item, req.Filter) {
				source = append(source, item)
			}
		}
	}

	page := []T{}
	if req.Offset < len(source) {
		end := req.Offset + req.Limit
		if end > len(source) {
			end = len(source)
		}
		page = append(page, source[req.Offset:end]...)
	}

	resp := collection.PageResponse[T]{Items: page}
	if s.reportTotal {
		resp.TotalCount = len(source)
		resp.TotalKnown = true
	}
	return resp, nil
}

// Hold makes subsequent fetches block until Release.
func (s *MemorySource[T]) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release unblocks every held fetch.
func (s *MemorySource[T]) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Started receives the request of every fetch as it begins.
func (s *MemorySource[T]) Started() <-chan collection.PageRequest {
	return s.started
}

// FailNext makes the next fetch return err.
func (s *MemorySource[T]) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

// Remove deletes the item with key k, as a server-side mutation would.
func (s *MemorySource[T]) Remove(k string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	for _, item := range s.items {
		if s.key(item) != k {
			kept = append(kept, item)
		}
	}
	s.items = kept
}

// Calls returns a copy of every request received.
func (s *MemorySource[T]) Calls() []collection.PageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]collection.PageRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of requests received.
func (s *MemorySource[T]) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
