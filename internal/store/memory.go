package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record // keyed by oppKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[oppKey(rec.Exchange, rec.ID)] = rec
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.recs {
		if !rec.ExpiresAt.After(now) {
			delete(s.recs, key)
			n++
		}
	}
	return n, nil
}

// Len reports the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// Get returns the record for (exchange, id) if present.
func (s *MemoryStore) Get(exchange, id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[oppKey(exchange, id)]
	return rec, ok
}
