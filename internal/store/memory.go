package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used in tests and single-node dev runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) SaveTable(_ context.Context, tableID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[tableID]
	rec.TableID = tableID
	rec.Table = append([]byte(nil), data...)
	m.records[tableID] = rec
	return nil
}

func (m *Memory) SavePlayers(_ context.Context, tableID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[tableID]
	rec.TableID = tableID
	rec.Players = append([]byte(nil), data...)
	m.records[tableID] = rec
	return nil
}

func (m *Memory) Load(_ context.Context, tableID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[tableID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) Delete(_ context.Context, tableID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, tableID)
	return nil
}
