package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/credcore"
)

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	byID         map[string]credcore.UserRecord
	byIdentifier map[string]string
	now          func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]credcore.UserRecord),
		byIdentifier: make(map[string]string),
		now:          time.Now,
	}
}

func (s *MemoryStore) GetUserByIdentifier(ctx context.Context, identifier string) (credcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdentifier[identifier]
	if !ok {
		return credcore.UserRecord{}, credcore.ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (credcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return credcore.UserRecord{}, credcore.ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, in credcore.CreateUserInput) (credcore.UserRecord, error) {
	if in.UserID == "" || in.Identifier == "" {
		return credcore.UserRecord{}, errInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byIdentifier[in.Identifier]; taken {
		return credcore.UserRecord{}, credcore.ErrAccountExists
	}
	if _, taken := s.byID[in.UserID]; taken {
		return credcore.UserRecord{}, credcore.ErrAccountExists
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	u := credcore.UserRecord{
		UserID:       in.UserID,
		Identifier:   in.Identifier,
		PasswordHash: in.PasswordHash,
		Status:       in.Status,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	s.byID[u.UserID] = u
	s.byIdentifier[u.Identifier] = u.UserID
	return u, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	_, err := s.update(userID, func(u *credcore.UserRecord) {
		u.PasswordHash = newHash
	})
	return err
}

func (s *MemoryStore) UpdateAccountStatus(ctx context.Context, userID string, status credcore.AccountStatus) (credcore.UserRecord, error) {
	return s.update(userID, func(u *credcore.UserRecord) {
		u.Status = status
	})
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return credcore.ErrUserNotFound
	}
	u.LastLoginAt = at
	s.byID[userID] = u
	return nil
}

func (s *MemoryStore) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	_, err := s.update(userID, func(u *credcore.UserRecord) {
		u.VerifiedAt = at
	})
	return err
}

// Len returns the number of stored accounts, deleted ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryStore) update(userID string, fn func(*credcore.UserRecord)) (credcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return credcore.UserRecord{}, credcore.ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = s.now()
	s.byID[userID] = u
	return u, nil
}

var _ credcore.UserProvider = (*MemoryStore)(nil)
