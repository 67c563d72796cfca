package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CloudReel/sentinel/internal/clock"
)

// MemoryCounter is an in-process CounterStore for tests and single-node
// deployments. Expiry is evaluated lazily against the injected clock.
type MemoryCounter struct {
	mu     sync.Mutex
	clock  clock.Clock
	counts map[string]*memoryCount
}

type memoryCount struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryCounter creates a counter store backed by a mutex-guarded map.
func NewMemoryCounter(clk clock.Clock) *MemoryCounter {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryCounter{clock: clk, counts: make(map[string]*memoryCount)}
}

// IncrementWithExpiry atomically increments key, setting the TTL only when
// the increment creates the key.
func (m *MemoryCounter) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	c, ok := m.counts[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCount{expiresAt: now.Add(ttl)}
		m.counts[key] = c
	}
	c.value++
	return c.value, nil
}

// MemoryStore is an in-process DocumentStore used by tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Document)}
}

func (m *MemoryStore) Put(_ context.Context, collection string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		m.collections[collection] = docs
	}
	docs[doc.ID] = doc
	return nil
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, doc := range m.collections[collection] {
		if q.Matches(doc) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) Collections(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.collections {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
