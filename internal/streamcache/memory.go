package streamcache

import (
	"context"
	"sync"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

// DefaultTTL applies when a non-positive TTL is supplied.
const DefaultTTL = time.Minute

// Memory is an in-process Cache guarded by a RWMutex.
type Memory struct {
	now func() time.Time

	mu    sync.RWMutex
	items map[string]Entry
}

// NewMemory returns an empty in-memory cache. A nil clock means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:   now,
		items: make(map[string]Entry),
	}
}

// Get returns the fresh entry for videoID, evicting it lazily when expired.
func (m *Memory) Get(_ context.Context, videoID string) (Entry, bool) {
	now := m.now()

	m.mu.RLock()
	entry, ok := m.items[videoID]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if entry.Fresh(now) {
		return entry, true
	}

	m.mu.Lock()
	// Another writer may have refreshed the key since the read lock was dropped.
	if current, ok := m.items[videoID]; ok && !current.Fresh(now) {
		delete(m.items, videoID)
	}
	m.mu.Unlock()
	return Entry{}, false
}

// Put stores a resolution for ttl, replacing any previous entry.
func (m *Memory) Put(_ context.Context, videoID string, resolution models.Resolution, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	entry := Entry{
		VideoID:    videoID,
		Resolution: resolution,
		ResolvedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	m.store(entry)
	return entry
}

func (m *Memory) store(entry Entry) {
	m.mu.Lock()
	m.items[entry.VideoID] = entry
	m.mu.Unlock()
}

// Delete drops the entry for videoID.
func (m *Memory) Delete(_ context.Context, videoID string) {
	m.mu.Lock()
	delete(m.items, videoID)
	m.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.items {
		if !entry.Fresh(now) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

var _ Cache = (*Memory)(nil)
