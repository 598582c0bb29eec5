package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memEntry struct {
	value   []byte
	version int64
}

// Memory is an in-process KV substrate
type Memory struct {
	mu   sync.RWMutex
	data map[string]memEntry
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]memEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok {
		return nil, 0, nil
	}
	return append([]byte(nil), e.value...), e.version, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, expectVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key].version != expectVersion {
		return 0, ErrVersionConflict
	}
	next := expectVersion + 1
	m.data[key] = memEntry{value: append([]byte(nil), value...), version: next}
	return next, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }
