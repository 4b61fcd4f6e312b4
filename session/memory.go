package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is intended for tests and
// single-instance deployments; records are lost on restart.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	bySubject map[string]map[string]struct{}
	opts      storeOptions
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*Record),
		bySubject: make(map[string]map[string]struct{}),
		opts:      buildOptions(opts),
	}
}

func (s *MemoryStore) InsertRefreshRecord(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.TokenID]; exists {
		return ErrDuplicate
	}
	s.putLocked(rec)
	return nil
}

func (s *MemoryStore) FindActiveRefreshRecord(ctx context.Context, tokenID string) (*Record, error) {
	s.mu.Lock()
	rec, ok := s.records[tokenID]
	if ok {
		rec = rec.clone()
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return checkFound(rec, s.opts.now())
}

func (s *MemoryStore) Revoke(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenID]
	if !ok {
		return ErrNotFound
	}
	if !rec.Revoked {
		rec.Revoked = true
		rec.RevokedAt = s.opts.now()
	}
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, oldTokenID string, next *Record) error {
	if err := next.validate(); err != nil {
		return err
	}
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.records[oldTokenID]
	switch {
	case !ok:
		return ErrNotFound
	case old.Revoked:
		return ErrAlreadyRotated
	case !now.Before(old.ExpiresAt):
		return ErrExpired
	}
	if _, exists := s.records[next.TokenID]; exists {
		return ErrDuplicate
	}
	old.Revoked = true
	old.RevokedAt = now
	old.ReplacedBy = next.TokenID
	s.putLocked(next)
	return nil
}

func (s *MemoryStore) RevokeAllForSubject(ctx context.Context, subject string) (int, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.bySubject[subject] {
		rec := s.records[id]
		if rec.Active(now) {
			rec.Revoked = true
			rec.RevokedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.ExpiresAt.Before(before) {
			delete(s.records, id)
			if set := s.bySubject[rec.Subject]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(s.bySubject, rec.Subject)
				}
			}
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

func (s *MemoryStore) putLocked(rec *Record) {
	cp := rec.clone()
	cp.Revoked = false
	cp.RevokedAt = time.Time{}
	cp.ReplacedBy = ""
	s.records[rec.TokenID] = cp
	set := s.bySubject[rec.Subject]
	if set == nil {
		set = make(map[string]struct{})
		s.bySubject[rec.Subject] = set
	}
	set[rec.TokenID] = struct{}{}
}

var _ Store = (*MemoryStore)(nil)
