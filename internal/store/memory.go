package store

import (
	"context"
	"sync"

	"github.com/dgnsrekt/unitsync/internal/unit"
)

// Memory is an in-process Store, used for dry runs and tests.
type Memory struct {
	mu    sync.RWMutex
	units map[uint64]unit.Unit
}

// Compile-time interface verification
var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{units: make(map[uint64]unit.Unit)}
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.units)
	return nil
}

func (m *Memory) BulkUpsert(ctx context.Context, units []unit.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range units {
		m.units[u.ID] = u
	}
	return nil
}

func (m *Memory) BulkDelete(ctx context.Context, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.units, id)
	}
	return nil
}

// get returns the stored unit for id.
func (m *Memory) get(id uint64) (unit.Unit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	return u, ok
}

func (m *Memory) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.units)
}

func (m *Memory) Close() error {
	return nil
}
