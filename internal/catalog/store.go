package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultTTL is how long a catalog answer is reused before it is refetched
const DefaultTTL = 24 * time.Hour

// Entry is one cached catalog answer
type Entry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Expired reports whether the entry is older than its TTL at now
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.FetchedAt.Add(e.TTL))
}

// Store persists catalog entries. Get returns nil, nil on a miss.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
}

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Get retrieves a cached entry
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if entry.Expired(s.now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, nil
	}

	cp := *entry
	return &cp, nil
}

// Put caches an entry, replacing any previous one under the same key
func (s *MemoryStore) Put(_ context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}
	cp := *entry

	s.mu.Lock()
	s.entries[entry.Key] = &cp
	s.mu.Unlock()
	return nil
}
