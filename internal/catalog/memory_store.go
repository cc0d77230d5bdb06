package catalog

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store, used for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Record
}

func NewMemoryStore(seed map[string][]Record) *MemoryStore {
	s := &MemoryStore{data: make(map[string][]Record, len(seed))}
	for k, v := range seed {
		s.data[k] = cloneRecords(v)
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context, collection string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.data[collection]), nil
}

func (s *MemoryStore) Save(ctx context.Context, collection string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[collection] = cloneRecords(records)
	return nil
}

func cloneRecords(in []Record) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		c := make(Record, len(r))
		for k, v := range r {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
