package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process. Single-node deployments and tests
// use it; multi-worker deployments share a RedisStore instead.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (SlideResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, ts := range s.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	res := SlideResult{Count: len(kept)}
	if len(kept) < max {
		kept = append(kept, now)
		res.Allowed = true
		res.Count = len(kept)
	}
	s.windows[key] = kept

	if len(kept) > 0 {
		res.Oldest = kept[0]
	}
	return res, nil
}
