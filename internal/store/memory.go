package store

import (
	"context"
	"sync"
)

type collection struct {
	order   []string
	records map[string]Record
}

// Memory is an in-process RecordStore.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*collection)}
}

func (m *Memory) coll(name string) *collection {
	c, ok := m.collections[name]
	if !ok {
		c = &collection{records: make(map[string]Record)}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) List(_ context.Context, name string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return []Record{}, nil
	}
	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id].Clone())
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, name, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) Insert(_ context.Context, name string, rec Record) (Record, error) {
	out := prepareInsert(rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(name)
	id := out.ID()
	if _, exists := c.records[id]; !exists {
		c.order = append(c.order, id)
	}
	c.records[id] = out
	return out.Clone(), nil
}

func (m *Memory) Update(_ context.Context, name, id string, patch Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := applyPatch(rec, patch)
	c.records[id] = out
	return out.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, name, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return ErrNotFound
	}
	if _, ok := c.records[id]; !ok {
		return ErrNotFound
	}
	delete(c.records, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Close() {}
