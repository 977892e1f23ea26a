// Package counter is the shared quota accounting store. Keys identify one
// (subject, dimension, window) triple; all mutation goes through Bump, which
// is atomic per key.
package counter

import (
	"context"
	"sync"
	"time"
)

// Store tracks consumed quota per window key.
type Store interface {
	// Bump applies cost to the key's counter and returns the resulting
	// total. When enforce is true the increment is skipped if it would push
	// the total past limit; the untouched total is returned with
	// applied=false. A Bump that returns an error must not have left a
	// partial update behind.
	Bump(ctx context.Context, key string, cost, limit int64, enforce bool, ttl time.Duration) (total int64, applied bool, err error)

	// Peek returns the current total for key without modifying it.
	Peek(ctx context.Context, key string) (int64, error)
}

type memoryEntry struct {
	total     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Bump(ctx context.Context, key string, cost, limit int64, enforce bool, ttl time.Duration) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.entries[key]
	if !ok || (!entry.expiresAt.IsZero() && now.After(entry.expiresAt)) {
		entry = &memoryEntry{}
		if ttl > 0 {
			entry.expiresAt = now.Add(ttl)
		}
		s.entries[key] = entry
	}

	if enforce && entry.total+cost > limit {
		return entry.total, false, nil
	}
	entry.total += cost
	return entry.total, true, nil
}

func (s *MemoryStore) Peek(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || (!entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)) {
		return 0, nil
	}
	return entry.total, nil
}

// Len reports the number of live counters, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
