package timer

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in process memory. Used when no durable
// backend is configured and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Snapshot)}
}

func (m *MemoryStore) Get(_ context.Context, taskID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[taskID]
	return s, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, taskID string, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[taskID] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, taskID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) (map[string]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Snapshot, len(m.items))
	for k, v := range m.items {
		out[k] = v
	}
	return out, nil
}
