package collection

import (
	"sync"
)

// Snapshot is a read-only copy of a State taken under its lock.
type Snapshot[T any] struct {
	Items      []T    `json:"items"`
	Cursor     int    `json:"cursor"`
	HasMore    bool   `json:"has_more"`
	Loading    bool   `json:"loading"`
	TotalCount int    `json:"total_count"`
	TotalKnown bool   `json:"total_known"`
	Status     Status `json:"status"`
	Generation uint64 `json:"generation"`
	Filter     string `json:"filter"`

	// Version increases with every mutation of the state.
	Version uint64 `json:"version"`
}

// Observer receives a snapshot after every state mutation.
type Observer[T any] func(Snapshot[T])

// ApplyResult describes the outcome of applying a page to the state.
type ApplyResult[T any] struct {
	// Applied is false when the page belonged to an older generation.
	Applied bool

	// Returned is the number of items in the page.
	Returned int

	// TotalRaised is set when the source reported a total below the merged item count.
	TotalRaised bool

	Snapshot Snapshot[T]
}

// State is the owned, observable cache of one remote collection.
// All methods are safe for concurrent use.
type State[T any] struct {
	key KeyFunc[T]

	mu         sync.Mutex
	items      []T
	cursor     int
	hasMore    bool
	total      int
	totalKnown bool
	status     Status
	generation uint64
	filter     string
	version    uint64

	observers map[int]Observer[T]
	nextObsID int

	// Delivery is serialized: one goroutine drains pending at a time and
	// snapshots not newer than delivered are dropped.
	notifyMu  sync.Mutex
	draining  bool
	pending   *delivery[T]
	delivered uint64
}

type delivery[T any] struct {
	snap      Snapshot[T]
	observers []Observer[T]
}

// NewState creates an empty idle state at generation 0.
func NewState[T any](key KeyFunc[T]) *State[T] {
	if key == nil {
		panic("key func cannot be nil")
	}
	return &State[T]{
		key:       key,
		hasMore:   true,
		status:    StatusIdle,
		observers: make(map[int]Observer[T]),
	}
}

// Key returns the key func of the state.
func (s *State[T]) Key() KeyFunc[T] {
	return s.key
}

// Snapshot returns a copy of the current state.
func (s *State[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every subsequent mutation and returns a func
// removing it again.
func (s *State[T]) Subscribe(fn Observer[T]) func() {
	s.mu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Begin runs the single-flight guard and, when it passes, moves the state to
// loading (replace) or loading more (append) in the same critical section.
// It returns the request to issue and the generation it belongs to.
func (s *State[T]) Begin(mode MergeMode, limit int) (PageRequest, uint64, error) {
	s.mu.Lock()

	if s.status.InFlight() {
		s.mu.Unlock()
		return PageRequest{}, 0, ErrInFlight
	}

	req := PageRequest{Limit: limit, Filter: s.filter}
	if mode == MergeAppend {
		if s.status == StatusIdle {
			s.mu.Unlock()
			return PageRequest{}, 0, ErrNotStarted
		}
		if !s.hasMore {
			s.mu.Unlock()
			return PageRequest{}, 0, ErrExhausted
		}
		req.Offset = s.cursor
		s.status = StatusLoadingMore
	} else {
		s.status = StatusLoading
	}

	gen := s.generation
	snap, observers := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(snap, observers)
	return req, gen, nil
}

// Apply merges a successful page fetched for generation gen. Pages of an
// older generation are discarded without touching the state.
func (s *State[T]) Apply(gen uint64, mode MergeMode, limit int, resp PageResponse[T]) ApplyResult[T] {
	s.mu.Lock()

	if gen != s.generation {
		res := ApplyResult[T]{Returned: len(resp.Items), Snapshot: s.snapshotLocked()}
		s.mu.Unlock()
		return res
	}

	res := ApplyResult[T]{Applied: true, Returned: len(resp.Items)}

	s.items = Merge(s.items, resp.Items, s.key, mode)
	if mode == MergeAppend {
		s.cursor += len(resp.Items)
	} else {
		s.cursor = len(resp.Items)
	}

	if resp.TotalKnown {
		s.total = resp.TotalCount
		s.totalKnown = true
	}
	if s.totalKnown && s.total < len(s.items) {
		s.total = len(s.items)
		res.TotalRaised = true
	}

	s.hasMore = len(resp.Items) >= limit && (!s.totalKnown || s.cursor < s.total)
	if s.hasMore {
		s.status = StatusLoaded
	} else {
		s.status = StatusExhausted
	}

	snap, observers := s.mutatedLocked()
	s.mu.Unlock()

	res.Snapshot = snap
	s.notify(snap, observers)
	return res
}

// Fail records a failed fetch of generation gen. Items, cursor and hasMore are
// left unchanged. It returns false when the failure belonged to an older generation.
func (s *State[T]) Fail(gen uint64) bool {
	s.mu.Lock()

	if gen != s.generation {
		s.mu.Unlock()
		return false
	}

	s.status = StatusError
	snap, observers := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(snap, observers)
	return true
}

// Reset starts a new generation: items cleared, cursor zeroed, status idle.
// Responses still in flight for older generations will be discarded.
func (s *State[T]) Reset() uint64 {
	s.mu.Lock()

	s.generation++
	s.items = nil
	s.cursor = 0
	s.hasMore = true
	s.total = 0
	s.totalKnown = false
	s.status = StatusIdle
	gen := s.generation

	snap, observers := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(snap, observers)
	return gen
}

// SetFilter stores the active filter text. It reports whether the text changed.
func (s *State[T]) SetFilter(text string) bool {
	s.mu.Lock()

	if s.filter == text {
		s.mu.Unlock()
		return false
	}
	s.filter = text

	snap, observers := s.mutatedLocked()
	s.mu.Unlock()

	s.notify(snap, observers)
	return true
}

func (s *State[T]) mutatedLocked() (Snapshot[T], []Observer[T]) {
	s.version++
	observers := make([]Observer[T], 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	return s.snapshotLocked(), observers
}

func (s *State[T]) snapshotLocked() Snapshot[T] {
	items := make([]T, len(s.items))
	copy(items, s.items)

	return Snapshot[T]{
		Items:      items,
		Cursor:     s.cursor,
		HasMore:    s.hasMore,
		Loading:    s.status.InFlight(),
		TotalCount: s.total,
		TotalKnown: s.totalKnown,
		Status:     s.status,
		Generation: s.generation,
		Filter:     s.filter,
		Version:    s.version,
	}
}

// notify hands snap to the observers. Snapshots reach observers one at a time
// in version order; a snapshot superseded while another is being delivered is
// skipped. A mutation made by an observer is delivered after it returns.
func (s *State[T]) notify(snap Snapshot[T], observers []Observer[T]) {
	s.notifyMu.Lock()
	if s.pending == nil || snap.Version > s.pending.snap.Version {
		s.pending = &delivery[T]{snap: snap, observers: observers}
	}
	if s.draining {
		s.notifyMu.Unlock()
		return
	}
	s.draining = true
	s.notifyMu.Unlock()

	finished := false
	defer func() {
		if !finished {
			s.notifyMu.Lock()
			s.draining = false
			s.notifyMu.Unlock()
		}
	}()

	for {
		s.notifyMu.Lock()
		d := s.pending
		s.pending = nil
		if d == nil {
			s.draining = false
			finished = true
			s.notifyMu.Unlock()
			return
		}
		if d.snap.Version <= s.delivered {
			s.notifyMu.Unlock()
			continue
		}
		s.delivered = d.snap.Version
		s.notifyMu.Unlock()

		for _, fn := range d.observers {
			fn(d.snap)
		}
	}
}
