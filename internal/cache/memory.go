package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ferro-labs/oembed-filter/oembed"
)

type memoryEntry struct {
	key       string
	response  *oembed.Response
	expiresAt time.Time
}

// Memory is a thread-safe in-memory LRU cache with per-entry expiry.
type Memory struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[string]*list.Element
	evictList *list.List
	now       func() time.Time
}

// NewMemory creates an LRU holding at most capacity responses. ttl is the
// default lifetime for Set calls without one.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	return &Memory{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		now:       time.Now,
	}
}

// Get returns the cached response for key, or false if missing or expired.
func (m *Memory) Get(_ context.Context, key string) (*oembed.Response, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if m.now().After(entry.expiresAt) {
		m.removeElement(elem)
		return nil, false
	}
	m.evictList.MoveToFront(elem)
	return entry.response, true
}

// Set stores resp under key for ttl (or the default TTL).
func (m *Memory) Set(_ context.Context, key string, resp *oembed.Response, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	expires := m.now().Add(ttl)
	if elem, ok := m.items[key]; ok {
		m.evictList.MoveToFront(elem)
		entry := elem.Value.(*memoryEntry)
		entry.response, entry.expiresAt = resp, expires
		return
	}
	if m.evictList.Len() >= m.capacity {
		if oldest := m.evictList.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}
	m.items[key] = m.evictList.PushFront(&memoryEntry{key: key, response: resp, expiresAt: expires})
}

// Delete removes an entry from the cache.
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// Len returns the number of entries, expired ones included until touched.
func (m *Memory) Len(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Clear removes all entries.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.evictList.Init()
	return nil
}

func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	delete(m.items, elem.Value.(*memoryEntry).key)
}
