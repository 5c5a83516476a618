// Package memory implements db.Store as a bounded in-process LRU with
// per-key expiry.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/kailas-cloud/shopgeo/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// DefaultSize is the default number of entries kept.
const DefaultSize = 4096

type item struct {
	data    []byte
	expires time.Time
}

// Store is an LRU of byte values. Expiry checks and writes happen under one
// lock so a reader never observes a half-applied update.
type Store struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, item]
	now func() time.Time
}

// NewStore creates a store holding at most size entries.
func NewStore(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := simplelru.NewLRU[string, item](size, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Store{lru: l, now: time.Now}, nil
}

// WithClock replaces the time source (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Get returns a live value. Expired entries are evicted on access.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lru.Get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	if !s.now().Before(it.expires) {
		s.lru.Remove(key)
		return nil, db.ErrKeyNotFound
	}
	return it.data, nil
}

// SetWithTTL stores value until ttl elapses. A non-positive ttl removes the key.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		s.lru.Remove(key)
		return nil
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.lru.Add(key, item{data: buf, expires: s.now().Add(ttl)})
	return nil
}

// Del removes a key.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	s.lru.Remove(key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close drops all entries.
func (s *Store) Close() {
	s.mu.Lock()
	s.lru.Purge()
	s.mu.Unlock()
}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(context.Context, time.Duration) error { return nil }
