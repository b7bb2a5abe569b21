package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepThreshold = 10_000

type memoryEntry struct {
	bucket    Bucket
	expiresAt time.Time
}

// MemoryStore keeps buckets in a process-local map.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Bucket{}, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return Bucket{}, false, nil
	}
	return entry.bucket, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, bucket Bucket, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if len(s.entries) >= sweepThreshold {
		s.sweepLocked(now)
	}
	s.entries[key] = memoryEntry{bucket: bucket, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len reports the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
