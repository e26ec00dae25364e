package ratelimit

import (
	"sync"
	"time"
)

// Entry is the fixed-window counter for one key.
type Entry struct {
	Count     int
	ResetTime time.Time
}

// Stale reports whether the window has rolled over and the entry must be replaced.
func (e Entry) Stale(now time.Time) bool {
	return !now.Before(e.ResetTime)
}

// Store is a keyed bucket of entries. Update must run fn atomically with
// respect to other calls for the same key.
type Store interface {
	// Update calls fn with the current entry (ok=false when absent) and stores its result.
	Update(key string, fn func(e Entry, ok bool) Entry) Entry
	Get(key string) (Entry, bool)
	Delete(key string)
	// DeleteExpired removes entries whose ResetTime is before now and returns how many were removed.
	DeleteExpired(now time.Time) int
	Len() int
}

// MemoryStore keeps entries in a process-local map.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Update(key string, fn func(e Entry, ok bool) Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[key]
	next := fn(cur, ok)
	s.entries[key] = next
	return next
}

func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return e, ok
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

func (s *MemoryStore) DeleteExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.ResetTime.Before(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
