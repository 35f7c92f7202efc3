package store

import (
	"sort"
	"sync"

	rterrors "ocirt/errors"
)

// Memory is a Store that keeps records in process memory. Records do not
// survive the process; the daemon can use it when nothing else needs to
// see its containers.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func (m *Memory) Create(r *Record) error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return rterrors.ErrStoreClosed
	}
	if _, ok := m.records[r.ID]; ok {
		return Exists(r.ID)
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *Memory) Update(r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return rterrors.ErrStoreClosed
	}
	if _, ok := m.records[r.ID]; !ok {
		return NotFound(r.ID)
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *Memory) Get(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, rterrors.ErrStoreClosed
	}
	r, ok := m.records[id]
	if !ok {
		return nil, NotFound(id)
	}
	return r.Clone(), nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return rterrors.ErrStoreClosed
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) List() ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, rterrors.ErrStoreClosed
	}
	records := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
