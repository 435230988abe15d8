package records

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository keeps records in insertion order behind a mutex.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]Record
	order []string
}

// NewMemoryRepository returns a repository holding recs.
func NewMemoryRepository(recs ...Record) *MemoryRepository {
	m := &MemoryRepository{byID: make(map[string]Record, len(recs))}
	_ = m.Put(context.Background(), recs...)
	return m
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryRepository) Put(ctx context.Context, recs ...Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if _, ok := m.byID[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.byID[r.ID] = r
	}
	return nil
}

func (m *MemoryRepository) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}

func (m *MemoryRepository) All(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out, nil
}

func (m *MemoryRepository) Close() error { return nil }
