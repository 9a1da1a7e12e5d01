package guard

import (
	"sync"
	"time"
)

// Entry is one guard record. Send records use At; processed event ids use
// ExpiresAt.
type Entry struct {
	At        time.Time
	ExpiresAt time.Time
}

// Store holds guard entries. Individual calls must be safe for concurrent
// use; the Guard serializes compound check-and-set sequences itself.
type Store interface {
	Get(key string) (Entry, bool)
	Set(key string, e Entry)
	Delete(key string)
	// Range calls fn for each entry until fn returns false. fn may call
	// Delete on the same store.
	Range(fn func(key string, e Entry) bool)
}

// MemoryStore is a map-backed Store. State is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *MemoryStore) Set(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Range iterates over a snapshot so fn can mutate the store.
func (s *MemoryStore) Range(fn func(key string, e Entry) bool) {
	s.mu.RLock()
	snapshot := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)
