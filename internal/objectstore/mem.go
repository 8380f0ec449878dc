package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memObject struct {
	data        []byte
	contentType string
}

// Mem is an in-memory Store for tests and local runs. Safe for concurrent
// use.
type Mem struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memObject
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{buckets: make(map[string]map[string]memObject)}
}

func (m *Mem) GetBytes(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *Mem) PutBytes(_ context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string]memObject)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.buckets[bucket][key] = memObject{data: stored, contentType: contentType}
	return nil
}

func (m *Mem) Exists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.buckets[bucket][key]
	return ok, nil
}

func (m *Mem) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ContentType returns the stored content type, for test assertions.
func (m *Mem) ContentType(bucket, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buckets[bucket][key].contentType
}
