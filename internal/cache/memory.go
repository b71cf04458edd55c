package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"trackmeta/internal/metadata"
)

const shardCount = 16

type entry struct {
	value     *metadata.Candidate
	expiresAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Memory is an in-process TTL cache. Keys are spread over independently
// locked shards so lookups for different tracks rarely contend.
type Memory struct {
	ttl        time.Duration
	maxEntries int
	shards     [shardCount]*shard
	now        func() time.Time
}

// NewMemory creates a Memory cache. maxEntries bounds the total size; zero
// means unbounded.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{ttl: ttl, maxEntries: maxEntries, now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return m
}

// WithClock replaces the time source, for tests that simulate expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *Memory) Get(_ context.Context, key string) (*metadata.Candidate, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && !m.now().Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	if e.value == nil {
		return nil, true
	}
	c := *e.value
	return &c, true
}

func (m *Memory) Set(_ context.Context, key string, c *metadata.Candidate) {
	var stored *metadata.Candidate
	if c != nil {
		cp := *c
		stored = &cp
	}

	now := m.now()
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit := m.shardLimit(); limit > 0 && len(s.entries) >= limit {
		if _, exists := s.entries[key]; !exists {
			s.evict(now, limit)
		}
	}
	s.entries[key] = entry{value: stored, expiresAt: now.Add(m.ttl)}
}

func (m *Memory) shardLimit() int {
	if m.maxEntries <= 0 {
		return 0
	}
	return max(1, m.maxEntries/shardCount)
}

// evict drops expired entries and, if the shard is still full, the entry
// closest to expiry. Callers hold s.mu.
func (s *shard) evict(now time.Time, limit int) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(s.entries) >= limit && oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Purge removes every expired entry.
func (m *Memory) Purge() int {
	now := m.now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if !now.Before(e.expiresAt) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// RunJanitor purges expired entries every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Purge()
		}
	}
}
