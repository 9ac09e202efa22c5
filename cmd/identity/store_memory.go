package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// Put inserts or replaces a user.
func (s *MemoryStore) Put(u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return OpError{Op: "identity.Put", Kind: ErrInvalidInput, Msg: "empty id"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if norm := NormalizeEmail(u.Email); norm != "" {
		if owner, ok := s.byEmail[norm]; ok && owner != u.ID {
			return OpError{Op: "identity.Put", Kind: ErrConflict, Msg: "email"}
		}
		s.byEmail[norm] = u.ID
	}
	s.byID[u.ID] = cloneUser(u)
	return nil
}

// GetUserByID implements Store.
func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return cloneUser(u), nil
}

// GetUserByEmail implements Store.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, notFound("identity.GetUserByEmail")
	}
	return cloneUser(s.byID[id]), nil
}

// SetLockoutUntil implements Store.
func (s *MemoryStore) SetLockoutUntil(ctx context.Context, userID string, until *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil
	}
	if until == nil {
		u.LockoutUntil = nil
	} else {
		t := *until
		u.LockoutUntil = &t
	}
	s.byID[userID] = u
	return nil
}

func cloneUser(u User) User {
	if u.LockoutUntil != nil {
		t := *u.LockoutUntil
		u.LockoutUntil = &t
	}
	if u.Roles != nil {
		u.Roles = append([]string(nil), u.Roles...)
	}
	return u
}
