package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"budget-tracker/backend/internal/session/domain"
)

// MemoryRepository is a mutex-guarded in-process session store.
// InTx is not atomic: fn runs against the shared store and partial effects stay on error.
// Concurrent rotations of one secret are still linearized by DeleteByHash.
type MemoryRepository struct {
	mu     sync.Mutex
	byHash map[string]*domain.RefreshSession
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byHash: make(map[string]*domain.RefreshSession)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[s.SecretHash] = clone(s)
	return nil
}

func (r *MemoryRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byHash[hash]), nil
}

func (r *MemoryRepository) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[hash]; !ok {
		return false, nil
	}
	delete(r.byHash, hash)
	return true, nil
}

func (r *MemoryRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	n := r.deleteWhere(func(s *domain.RefreshSession) bool { return s.ID == id })
	return n > 0, nil
}

func (r *MemoryRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.deleteWhere(func(s *domain.RefreshSession) bool { return s.UserID == userID }), nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(func(s *domain.RefreshSession) bool { return s.ExpiresAt.Before(now) }), nil
}

func (r *MemoryRepository) CountForUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byHash {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListLiveForUser(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshSession, error) {
	r.mu.Lock()
	var out []*domain.RefreshSession
	for _, s := range r.byHash {
		if s.UserID == userID && s.IsLive(now) {
			out = append(out, clone(s))
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byHash {
		if s.ID == id {
			t := at
			s.LastUsedAt = &t
			return nil
		}
	}
	return nil
}

// LockUser is a no-op: InTx is not atomic here, so the session cap is best-effort under
// concurrent logins of one user.
func (r *MemoryRepository) LockUser(ctx context.Context, userID string) error { return nil }

func (r *MemoryRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	return fn(r)
}

// Len returns the number of stored sessions, live or not.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

func (r *MemoryRepository) deleteWhere(match func(*domain.RefreshSession) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, s := range r.byHash {
		if match(s) {
			delete(r.byHash, hash)
			n++
		}
	}
	return n
}

func clone(s *domain.RefreshSession) *domain.RefreshSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastUsedAt != nil {
		t := *s.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
