package challenge

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Expired records are dropped
// lazily when touched.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	opts    storeOptions
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		opts:    buildOptions(opts),
	}
}

func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicate
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, purpose Purpose, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Purpose != purpose {
		return nil, ErrNotFound
	}
	delete(s.records, id)
	if !s.opts.now().Before(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) DeleteForSubject(ctx context.Context, purpose Purpose, subject string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.Subject == subject && rec.Purpose == purpose {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ Store = (*MemoryStore)(nil)
