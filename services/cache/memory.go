package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// entry represents a single cache entry with its own expiry
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element // For LRU tracking
}

func (e *entry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore is an in-process LRU map with per-key TTL.
// Thread-safe implementation using sync.Mutex
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front is most recently used
	maxSize int        // zero means unbounded
	now     func() time.Time
}

// NewMemoryStore creates a store holding at most maxSize entries
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a copy of the stored value. Expired entries are removed.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.isExpired(s.now()) {
		s.removeEntry(key)
		return nil, false, nil
	}

	s.lruList.MoveToFront(e.element)
	return append([]byte(nil), e.value...), true, nil
}

// Set stores value until ttl elapses
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)
	value = append([]byte(nil), value...)

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		s.lruList.MoveToFront(e.element)
		return nil
	}

	if s.maxSize > 0 && s.lruList.Len() >= s.maxSize {
		s.evictLRU()
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.element = s.lruList.PushFront(key)
	s.entries[key] = e
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeEntry(key)
	return nil
}

// DeletePrefix removes every key with the given prefix
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			s.removeEntry(key)
		}
	}
	return nil
}

// FlushAll removes all entries
func (s *MemoryStore) FlushAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.lruList.Init()
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of entries, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lruList.Len()
}

// removeEntry must be called with lock held
func (s *MemoryStore) removeEntry(key string) {
	if e, ok := s.entries[key]; ok {
		s.lruList.Remove(e.element)
		delete(s.entries, key)
	}
}

// evictLRU must be called with lock held
func (s *MemoryStore) evictLRU() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, key)
}

// CleanupExpired removes all expired entries and returns how many
func (s *MemoryStore) CleanupExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for key, e := range s.entries {
		if e.isExpired(now) {
			s.removeEntry(key)
			removed++
		}
	}
	return removed, nil
}
