package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. It honors the same
// compare-and-set semantics as the durable stores and exists so the engine
// can be tested without a live destination store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record

	// Now is overridable for deterministic timestamps in tests.
	Now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		Now:     time.Now,
	}
}

func key(runID, table string) string { return runID + "\x00" + table }

func (m *MemoryStore) Get(_ context.Context, runID, table string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key(runID, table)]; ok {
		cp := *rec
		return &cp, nil
	}
	return unstarted(runID, table), nil
}

func (m *MemoryStore) Transition(_ context.Context, runID, table string, from, to Status, mutate func(*Record)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[key(runID, table)]
	if !ok {
		cur = unstarted(runID, table)
	}

	next, err := apply(cur, from, to, mutate, m.Now().UTC())
	if err != nil {
		return nil, err
	}

	m.records[key(runID, table)] = next
	cp := *next
	return &cp, nil
}

func (m *MemoryStore) ResumePoint(ctx context.Context, runID string, ordered []string) (int, error) {
	for i, table := range ordered {
		rec, err := m.Get(ctx, runID, table)
		if err != nil {
			return 0, err
		}
		if rec.Status != StatusSucceeded {
			return i, nil
		}
	}
	return len(ordered), nil
}

func (m *MemoryStore) List(_ context.Context, runID string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	for _, rec := range m.records {
		if rec.RunID == runID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Reset(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, rec := range m.records {
		if rec.RunID == runID {
			delete(m.records, k)
		}
	}
	return nil
}
