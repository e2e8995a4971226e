package kvbackend

import (
	"context"
	"strings"
	"sync"

	"github.com/func/seeder/storage"
)

// Memory stores key-value pairs in memory.
//
// Data is lost when the process exits. Use it for tests and one-shot dry
// runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// Put creates or updates a value.
func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

// Get returns a single value.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Delete deletes a key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.data, key)
	return nil
}

// Scan returns all values directly within a bucket. Keys in nested buckets
// are not included.
func (m *Memory) Scan(ctx context.Context, bucket string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		slash := strings.LastIndex(k, "/")
		if slash == -1 || k[:slash] != bucket {
			continue
		}
		val := make([]byte, len(v))
		copy(val, v)
		out[k] = val
	}
	return out, nil
}
