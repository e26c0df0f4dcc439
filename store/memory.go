package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryKV keeps JSON-encoded values in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string]map[string]json.RawMessage{}}
}

func (m *MemoryKV) Put(ctx context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = map[string]json.RawMessage{}
		m.data[namespace] = ns
	}
	ns[key] = raw
	return nil
}

func (m *MemoryKV) Get(namespace, key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	return v, ok
}

func (m *MemoryKV) List(ctx context.Context, namespace string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.data[namespace]))
	for k, v := range m.data[namespace] {
		out = append(out, Record{Namespace: namespace, Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryKV) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[namespace])
}

func (m *MemoryKV) Close() error {
	return nil
}
