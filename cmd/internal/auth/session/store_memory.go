package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
//
// Rotation locking is optimistic: GetActiveForUpdate takes a snapshot and
// SwapSecret compares the stored hash under the store mutex. Two racing
// rotations therefore produce one winner and one ErrRotationConflict.
// An applied swap is not undone if the surrounding fn fails afterwards.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string]Row    // token_id -> row
	byHash map[string]string // hashed_secret -> token_id
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[string]Row),
		byHash: make(map[string]string),
	}
}

// Insert adds a new Active row.
func (s *MemoryStore) Insert(ctx context.Context, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[row.HashedSecret]; ok {
		return ErrSecretCollision
	}
	for _, r := range s.rows {
		if r.SessionID == row.SessionID && r.Status == StatusActive {
			return ErrSessionActive
		}
	}
	row.Status = StatusActive
	row.RevokedAt = nil
	s.rows[row.TokenID] = row
	s.byHash[row.HashedSecret] = row.TokenID
	return nil
}

// WithinTx runs fn against the store.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(memoryTx{s: s})
}

type memoryTx struct{ s *MemoryStore }

func (t memoryTx) GetActiveForUpdate(ctx context.Context, sessionID, hash string, now time.Time) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	id, ok := t.s.byHash[hash]
	if !ok {
		return Row{}, ErrInvalidRefreshToken
	}
	row := t.s.rows[id]
	if row.SessionID != sessionID || !row.UsableAt(now) {
		return Row{}, ErrInvalidRefreshToken
	}
	return row, nil
}

func (t memoryTx) SwapSecret(ctx context.Context, sw Swap) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	row, ok := t.s.rows[sw.TokenID]
	if !ok || row.HashedSecret != sw.OldHash || row.Status != StatusActive {
		return ErrRotationConflict
	}
	if _, taken := t.s.byHash[sw.NewHash]; taken {
		return ErrSecretCollision
	}

	delete(t.s.byHash, row.HashedSecret)
	row.HashedSecret = sw.NewHash
	row.AccessJTI = sw.AccessJTI
	row.ExpiresRollingAt = sw.RollingAt
	t.s.rows[row.TokenID] = row
	t.s.byHash[sw.NewHash] = row.TokenID
	return nil
}

// RevokeSession revokes the user's Active row for sessionID.
func (s *MemoryStore) RevokeSession(ctx context.Context, now time.Time, userID, sessionID string) ([]Revoked, error) {
	return s.revokeWhere(ctx, now, func(r Row) bool {
		return r.UserID == userID && r.SessionID == sessionID
	})
}

// RevokeSessionByID revokes the Active row for sessionID regardless of owner.
func (s *MemoryStore) RevokeSessionByID(ctx context.Context, now time.Time, sessionID string) ([]Revoked, error) {
	return s.revokeWhere(ctx, now, func(r Row) bool { return r.SessionID == sessionID })
}

// RevokeAll revokes every Active row owned by userID.
func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string) ([]Revoked, error) {
	return s.revokeWhere(ctx, now, func(r Row) bool { return r.UserID == userID })
}

// ExpireStale revokes Active rows past either horizon.
func (s *MemoryStore) ExpireStale(ctx context.Context, now time.Time) ([]Revoked, error) {
	return s.revokeWhere(ctx, now, func(r Row) bool {
		return !r.ExpiresRollingAt.After(now) || !r.ExpiresAbsoluteAt.After(now)
	})
}

func (s *MemoryStore) revokeWhere(ctx context.Context, now time.Time, match func(Row) bool) ([]Revoked, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Revoked
	for id, r := range s.rows {
		if r.Status != StatusActive || !match(r) {
			continue
		}
		at := now
		r.Status = StatusRevoked
		r.RevokedAt = &at
		s.rows[id] = r
		out = append(out, Revoked{TokenID: r.TokenID, UserID: r.UserID, SessionID: r.SessionID, AccessJTI: r.AccessJTI})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// BySession returns the most recent row for sessionID.
func (s *MemoryStore) BySession(sessionID string) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  Row
		found bool
	)
	for _, r := range s.rows {
		if r.SessionID != sessionID {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) || r.Status == StatusActive {
			best, found = r, true
		}
	}
	return best, found
}

// ActiveCount returns the number of Active rows for sessionID.
func (s *MemoryStore) ActiveCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.rows {
		if r.SessionID == sessionID && r.Status == StatusActive {
			n++
		}
	}
	return n
}
