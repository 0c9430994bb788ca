package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backed by maps. It implements the
// full rotation contract under a single mutex, which makes it suitable
// for tests and single-instance development but not for multi-instance
// deployments.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Session
	byAccess  map[string]string // access token -> session id
	byRefresh map[string]string // refresh token -> session id
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Session),
		byAccess:  make(map[string]string),
		byRefresh: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(sess)
	return nil
}

func (s *MemoryStore) GetByAccessToken(ctx context.Context, accessToken string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAccess[accessToken]
	if !ok {
		return nil, ErrNotFound
	}
	return s.cloneLocked(id)
}

func (s *MemoryStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRefresh[refreshToken]
	if !ok {
		return nil, ErrNotFound
	}
	return s.cloneLocked(id)
}

func (s *MemoryStore) TouchLastAccessed(ctx context.Context, sessionID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.LastAccessedAt = at
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return ErrNotFound
	}
	if sess.IsActive {
		sess.IsActive = false
		sess.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) DeactivateAllForUser(ctx context.Context, userID, excludeSessionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, sess := range s.byID {
		if sess.UserID != userID || !sess.IsActive || sess.ID == excludeSessionID {
			continue
		}
		sess.IsActive = false
		sess.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) RotateRefresh(ctx context.Context, oldSessionID string, next *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldSessionID]
	if !ok {
		return ErrNotFound
	}
	// The active flag is the compare-and-swap guard: only the first
	// rotation finds it true.
	if !old.IsActive {
		return ErrRotationConflict
	}
	old.IsActive = false
	old.UpdatedAt = time.Now().UTC()
	s.insertLocked(next)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for id, sess := range s.byID {
		if !sess.ExpiresAt.After(now) {
			s.removeLocked(id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored sessions, active or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *MemoryStore) insertLocked(sess *Session) {
	cp := *sess
	s.byID[cp.ID] = &cp
	s.byAccess[cp.AccessToken] = cp.ID
	s.byRefresh[cp.RefreshToken] = cp.ID
}

func (s *MemoryStore) removeLocked(id string) {
	sess, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byAccess, sess.AccessToken)
	delete(s.byRefresh, sess.RefreshToken)
	delete(s.byID, id)
}

func (s *MemoryStore) cloneLocked(id string) (*Session, error) {
	sess, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}
