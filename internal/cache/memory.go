package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps quotes in process, evicting the least recently used
// entry once maxEntries is reached
type MemoryStore struct {
	lru *expirable.LRU[string, Entry]

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewMemoryStore creates an in-memory store. A maxEntries of 0 means unbounded.
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		lru: expirable.NewLRU[string, Entry](maxEntries, nil, ttl),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		s.misses.Add(1)
		return nil, nil
	}
	s.hits.Add(1)
	return &entry, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	s.lru.Add(key, entry)
	s.sets.Add(1)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.lru.Purge()
	return nil
}

// Stats returns a snapshot of the store counters
func (s *MemoryStore) Stats() Stats {
	entries := s.lru.Len()
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Entries: &entries,
	}
}
