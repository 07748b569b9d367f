package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Cache bounded by entry count. When full it
// evicts the oldest-inserted entry first, so eviction order is
// deterministic and independent of read patterns. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest insertion

	capacity int
	ttl      time.Duration

	hits      uint64
	misses    uint64
	evictions uint64
}

type memoryEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// NewMemory builds an in-process cache. Non-positive capacity or ttl fall
// back to the defaults.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.misses++
		return "", false, nil
	}
	entry := el.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeLocked(el)
		m.misses++
		return "", false, nil
	}
	m.hits++
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	expires := time.Now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		// Re-setting counts as a fresh insertion for eviction order.
		entry := el.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = expires
		m.order.MoveToBack(el)
		return nil
	}

	el := m.order.PushBack(&memoryEntry{key: key, value: value, expiresAt: expires})
	m.entries[key] = el

	for len(m.entries) > m.capacity {
		oldest := m.order.Front()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
		m.evictions++
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
	return nil
}

func (m *Memory) DeleteByImage(_ context.Context, imageID string) (int, error) {
	prefix := imagePrefix(imageID)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, el := range m.entries {
		if strings.HasPrefix(key, prefix) {
			m.removeLocked(el)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Sweep expired entries so the live count is honest.
	now := time.Now()
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*memoryEntry).expiresAt) {
			m.removeLocked(el)
		}
		el = next
	}

	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Keys:      len(m.entries),
	}, nil
}

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	m.order.Remove(el)
	delete(m.entries, entry.key)
}
