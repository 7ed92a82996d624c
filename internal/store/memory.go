package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process KV used by tests and by STORE_BACKEND=memory.
// It honours the same versioning rules as the database backends.
type Memory struct {
	mu   sync.RWMutex
	data map[string]Record
	now  func() time.Time
}

var _ KV = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]Record), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Value = append([]byte(nil), rec.Value...)
	return rec, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, expected Version) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.data[key]
	if err := checkVersion(cur.Version, exists, expected); err != nil {
		return 0, err
	}
	next := cur.Version + 1
	m.data[key] = Record{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Version:   next,
		UpdatedAt: m.now(),
	}
	return next, nil
}

func (m *Memory) Delete(_ context.Context, key string, expected Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.data[key]
	if !exists {
		return ErrNotFound
	}
	if err := checkVersion(cur.Version, exists, expected); err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec := m.data[k]
		rec.Value = append([]byte(nil), rec.Value...)
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// checkVersion applies the Any/Absent/exact rules shared by all backends.
func checkVersion(current Version, exists bool, expected Version) error {
	switch {
	case expected == Any:
		return nil
	case expected == Absent:
		if exists {
			return ErrVersionConflict
		}
		return nil
	case !exists || current != expected:
		return ErrVersionConflict
	}
	return nil
}
