package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps attempts in process.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]Attempt
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string][]Attempt)}
}

func (s *MemoryStore) Record(ctx context.Context, a Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.attempts[a.UserID] = append(s.attempts[a.UserID], a)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts[userID] {
		if a.At.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.attempts[userID]))
	delete(s.attempts, userID)
	return n, nil
}

func (s *MemoryStore) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, list := range s.attempts {
		kept := list[:0]
		for _, a := range list {
			if a.At.Before(before) {
				n++
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			delete(s.attempts, id)
		} else {
			s.attempts[id] = kept
		}
	}
	return n, nil
}

// Count returns all stored attempts for userID.
func (s *MemoryStore) Count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts[userID])
}
