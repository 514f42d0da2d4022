package internal

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type recordID struct {
	typeName string
	key      string
}

// MemoryStore is an EntityStore held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordID]*EntityRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordID]*EntityRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, typeName, key string) (*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID{typeName, key}]
	if !ok {
		return nil, fmt.Errorf("%w: %s%s", ErrRecordNotFound, typeName, key)
	}
	return r.clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, typeName string) ([]*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*EntityRecord
	for id, r := range s.records {
		if id.typeName == typeName {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Apply checks every mutation before writing any of them.
func (s *MemoryStore) Apply(ctx context.Context, mutations []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[recordID]*EntityRecord)
	deleted := make(map[recordID]bool)
	lookup := func(id recordID) (*EntityRecord, bool) {
		if deleted[id] {
			return nil, false
		}
		if r, ok := staged[id]; ok {
			return r, true
		}
		r, ok := s.records[id]
		return r, ok
	}

	for _, m := range mutations {
		id := recordID{m.Record.TypeName, m.Record.Key}
		current, exists := lookup(id)
		switch m.Kind {
		case MutationInsert:
			if exists {
				return fmt.Errorf("%w: %s", ErrRecordExists, m.Record)
			}
			staged[id] = m.Record.clone()
			delete(deleted, id)
		case MutationUpdate, MutationDelete:
			if !exists {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, m.Record)
			}
			if current.Version != m.ExpectedVersion {
				return fmt.Errorf("%w: %s stored at %d", ErrVersionMismatch, m.Record, current.Version)
			}
			if m.Kind == MutationDelete {
				delete(staged, id)
				deleted[id] = true
				continue
			}
			staged[id] = m.Record.clone()
		default:
			return fmt.Errorf("unknown mutation kind %s", m.Kind)
		}
	}

	for id := range deleted {
		delete(s.records, id)
	}
	for id, r := range staged {
		s.records[id] = r
	}
	return nil
}
