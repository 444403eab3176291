// Package coord holds the primitives the agenda views use to keep
// overlapping requests from corrupting view state.
package coord

import "sync"

// Sequencer issues monotonically increasing tickets per view key.
// A response may mutate view state only while its ticket is current.
type Sequencer struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewSequencer returns a sequencer with every counter at 0.
func NewSequencer() *Sequencer {
	return &Sequencer{counters: make(map[string]uint64)}
}

// Next increments and returns the counter for key. The first ticket is 1.
func (s *Sequencer) Next(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key]
}

// IsCurrent reports whether token is the latest ticket issued for key.
func (s *Sequencer) IsCurrent(key string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key] == token
}

// Current returns the live counter for key, 0 if none was issued.
func (s *Sequencer) Current(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}
