package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of storefront.SessionStore.
// Its content lives as long as the process.
type MemoryStore struct {
	mu        sync.RWMutex
	values    map[string]string
	ttl       time.Duration
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory store. A zero ttl keeps the session
// until it is cleared.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl}
}

// Load returns a copy of the stored fields
func (s *MemoryStore) Load(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.values) == 0 {
		return nil, ErrNotFound
	}

	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		return nil, ErrNotFound
	}

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

// Save replaces the stored fields
func (s *MemoryStore) Save(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]string, len(values))
	for k, v := range values {
		s.values[k] = v
	}

	s.expiresAt = time.Time{}
	if s.ttl > 0 {
		s.expiresAt = time.Now().Add(s.ttl)
	}
	return nil
}

// Clear drops every field
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = nil
	s.expiresAt = time.Time{}
	return nil
}
