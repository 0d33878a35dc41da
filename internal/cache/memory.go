package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"irrigation-backend/internal/models"
)

// DefaultTTL applies when Put is given a non-positive ttl
const DefaultTTL = 5 * time.Minute

type entry struct {
	plantID   int
	value     models.Decision
	expiresAt time.Time
}

// Memory is an in-process cache. Expired entries are dropped lazily on Get;
// RunJanitor adds a periodic sweep and MaxEntries bounds memory.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	byPlant    map[int]map[string]struct{}
	maxEntries int
	now        func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	sets      atomic.Uint64
	deletes   atomic.Uint64
	evictions atomic.Uint64
}

// NewMemory creates a cache; maxEntries <= 0 means unbounded
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		entries:    make(map[string]*entry),
		byPlant:    make(map[int]map[string]struct{}),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *Memory) Get(_ context.Context, f Fingerprint) (models.Decision, bool) {
	key := f.Key()

	m.mu.RLock()
	e, ok := m.entries[key]
	if ok && m.now().Before(e.expiresAt) {
		v := e.value.Clone()
		m.mu.RUnlock()
		m.hits.Add(1)
		return v, true
	}
	m.mu.RUnlock()

	if ok {
		m.mu.Lock()
		// re-check: a concurrent Put may have refreshed it
		if e, ok := m.entries[key]; ok && !m.now().Before(e.expiresAt) {
			m.removeLocked(key, e.plantID)
			m.evictions.Add(1)
		}
		m.mu.Unlock()
	}
	m.misses.Add(1)
	return models.Decision{}, false
}

func (m *Memory) Put(_ context.Context, f Fingerprint, d models.Decision, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := f.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictLocked()
	}
	m.entries[key] = &entry{plantID: f.PlantID, value: d.Clone(), expiresAt: m.now().Add(ttl)}
	keys, ok := m.byPlant[f.PlantID]
	if !ok {
		keys = make(map[string]struct{})
		m.byPlant[f.PlantID] = keys
	}
	keys[key] = struct{}{}
	m.sets.Add(1)
}

// InvalidatePlant removes every entry of plantID and returns how many were removed
func (m *Memory) InvalidatePlant(_ context.Context, plantID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.byPlant[plantID]
	for key := range keys {
		delete(m.entries, key)
	}
	delete(m.byPlant, plantID)
	m.deletes.Add(uint64(len(keys)))
	return len(keys)
}

// InvalidateAll empties the cache and returns how many entries were removed
func (m *Memory) InvalidateAll(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	m.entries = make(map[string]*entry)
	m.byPlant = make(map[int]map[string]struct{})
	m.deletes.Add(uint64(n))
	return n
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Stats() Stats {
	hits, misses := m.hits.Load(), m.misses.Load()
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      m.sets.Load(),
		Deletes:   m.deletes.Load(),
		Evictions: m.evictions.Load(),
		HitRate:   hitRate(hits, misses),
	}
}

// Sweep drops every expired entry and returns the count
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			m.removeLocked(key, e.plantID)
			removed++
		}
	}
	m.evictions.Add(uint64(removed))
	return removed
}

// RunJanitor sweeps every interval until ctx is done
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// evictLocked drops expired entries, or the entry closest to expiry if none are
func (m *Memory) evictLocked() {
	now := m.now()
	var oldestKey string
	var oldest *entry
	expired := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			m.removeLocked(key, e.plantID)
			expired++
			continue
		}
		if oldest == nil || e.expiresAt.Before(oldest.expiresAt) {
			oldestKey, oldest = key, e
		}
	}
	if expired == 0 && oldest != nil {
		m.removeLocked(oldestKey, oldest.plantID)
		expired = 1
	}
	m.evictions.Add(uint64(expired))
}

func (m *Memory) removeLocked(key string, plantID int) {
	delete(m.entries, key)
	if keys, ok := m.byPlant[plantID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.byPlant, plantID)
		}
	}
}
