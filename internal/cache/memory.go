package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/querymesh/querymesh/internal/observability"
)

type memoryEntry struct {
	key       string
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is a fixed-capacity in-process LRU with per-entry TTL.
// Get, Set, and eviction are all O(1).
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    map[string]*list.Element{},
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	stored := element.Value.(*memoryEntry)
	if s.now().After(stored.expiresAt) {
		s.removeLocked(element)
		return Entry{}, false, nil
	}
	s.order.MoveToFront(element)
	return stored.entry, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.items[key]; ok {
		stored := element.Value.(*memoryEntry)
		stored.entry = entry
		stored.expiresAt = s.now().Add(s.ttl)
		s.order.MoveToFront(element)
		return nil
	}

	element := s.order.PushFront(&memoryEntry{key: key, entry: entry, expiresAt: s.now().Add(s.ttl)})
	s.items[key] = element
	for s.order.Len() > s.capacity {
		s.removeLocked(s.order.Back())
	}
	observability.SetCacheEntries(len(s.items))
	return nil
}

// InvalidateSchema drops every entry written under the given schema
// version.
func (s *MemoryStore) InvalidateSchema(_ context.Context, schemaVersion string) error {
	prefix := schemaPrefix(schemaVersion)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, element := range s.items {
		if strings.HasPrefix(key, prefix) {
			s.removeLocked(element)
		}
	}
	observability.SetCacheEntries(len(s.items))
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *MemoryStore) removeLocked(element *list.Element) {
	stored := element.Value.(*memoryEntry)
	s.order.Remove(element)
	delete(s.items, stored.key)
}
