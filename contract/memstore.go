package contract

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// memEntry serializes writers on mu. committed is nil until the creating
// mutation succeeds; readers load it without waiting on writers.
type memEntry struct {
	mu        sync.Mutex
	committed atomic.Pointer[Record]
}

// MemoryStore is an in-process Store. Each record carries its own lock, so
// operations on distinct contracts never wait on one another while a
// mutation's collaborators run.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (m *MemoryStore) Create(ctx context.Context, rec Record, fn Mutation) error {
	if rec.ID == "" {
		return fmt.Errorf("contract: create: empty id")
	}

	m.mu.Lock()
	if _, exists := m.entries[rec.ID]; exists {
		m.mu.Unlock()
		return ErrAlreadyExists
	}
	e := &memEntry{}
	e.mu.Lock()
	m.entries[rec.ID] = e
	m.mu.Unlock()
	defer e.mu.Unlock()

	if fn != nil {
		work := rec.Clone()
		if _, err := fn(ctx, &work); err != nil {
			m.mu.Lock()
			delete(m.entries, rec.ID)
			m.mu.Unlock()
			return err
		}
	}

	stored := rec.Clone()
	e.committed.Store(&stored)
	m.mu.Lock()
	m.order = append(m.order, rec.ID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn Mutation) (Record, error) {
	e := m.lookup(id)
	if e == nil {
		return Record{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	before := e.committed.Load()
	if before == nil {
		return Record{}, ErrNotFound
	}

	work := before.Clone()
	if _, err := fn(ctx, &work); err != nil {
		return Record{}, err
	}
	if err := checkTransition(*before, work); err != nil {
		return Record{}, err
	}
	stored := work.Clone()
	e.committed.Store(&stored)
	return work, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	e := m.lookup(id)
	if e == nil {
		return Record{}, ErrNotFound
	}
	rec := e.committed.Load()
	if rec == nil {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]Record, error) {
	filter = filter.normalized()

	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.entries[id])
	}
	m.mu.RUnlock()

	matched := make([]Record, 0, len(entries))
	for _, e := range entries {
		rec := e.committed.Load()
		if rec != nil && filter.matches(*rec) {
			matched = append(matched, rec.Clone())
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := (filter.Page - 1) * filter.PageSize
	if start >= len(matched) {
		return []Record{}, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (m *MemoryStore) lookup(id string) *memEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}
