// Package ratelimit paces page fetches against a source and stops calling it
// while it keeps failing.
//
// Two mechanisms apply to every FetchPage:
//
//   - a token bucket (golang.org/x/time/rate) caps the request rate
//   - an error budget counts transport failures per window; below the warning
//     threshold requests are delayed, once it is spent they are refused until
//     the window resets
//
// The budget lives in a Tracker. MemoryTracker serves a single process,
// RedisTracker shares the budget between proxy replicas.
package ratelimit

import (
	"time"
)

// Default error budget.
const (
	DefaultErrorBudget = 20
	DefaultWindow      = 60 * time.Second
)

// State is the error budget of a source for the current window.
type State struct {
	// Budget is the number of transport failures allowed per window.
	Budget int `json:"budget"`

	// ErrorsRemaining is Budget minus the failures recorded in this window.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the window ends and the budget is restored.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was read.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true while at least half the budget is left.
	IsHealthy bool `json:"is_healthy"`
}

func newState(budget, used int, resetAt time.Time) *State {
	s := &State{
		Budget:          budget,
		ErrorsRemaining: budget - used,
		ResetAt:         resetAt,
		LastUpdate:      time.Now(),
	}
	if s.ErrorsRemaining < 0 {
		s.ErrorsRemaining = 0
	}
	s.UpdateHealth()
	return s
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true once the budget is spent.
func (s *State) NeedsCriticalBlock() bool {
	return s.ErrorsRemaining <= 0
}

// NeedsThrottling returns true when less than a quarter of the budget is left.
func (s *State) NeedsThrottling() bool {
	return !s.NeedsCriticalBlock() && s.ErrorsRemaining*4 < s.Budget
}

// TimeUntilReset returns the duration until the budget resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current ErrorsRemaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.ErrorsRemaining*2 >= s.Budget
}
