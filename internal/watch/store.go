package watch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Store is the durable key/value abstraction for persisted feed state.
// Implementations can be in-memory, SQLite, or Redis. Get reports a missing
// or expired key with ok false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memEntry struct {
	value   []byte
	expires time.Time
}

// InMemoryStore is a process-local Store. Entries expire against the
// injected clock.
type InMemoryStore struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]memEntry
}

// NewInMemoryStore returns an empty store. A nil clk uses the wall clock.
func NewInMemoryStore(clk clock.Clock) *InMemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &InMemoryStore{clk: clk, entries: make(map[string]memEntry)}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !s.clk.Now().Before(e.expires) {
		delete(s.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements Store.Set. A non-positive ttl never expires.
func (s *InMemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expires = s.clk.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of entries, including expired ones not yet read.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
