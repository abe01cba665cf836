package repository

import (
	"context"
	"sync"

	"budget-tracker/backend/internal/user/domain"
)

// MemoryRepository is an in-process user store for tests and local tooling.
type MemoryRepository struct {
	mu        sync.Mutex
	byID      map[string]*domain.User
	bySubject map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:      make(map[string]*domain.User),
		bySubject: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetBySubject(ctx context.Context, subject string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byID[r.bySubject[subject]]), nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySubject[u.Subject]; ok {
		return ErrDuplicateSubject
	}
	r.byID[u.ID] = clone(u)
	r.bySubject[u.Subject] = u.ID
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[u.ID]
	if !ok {
		return nil
	}
	cur.Email, cur.Name, cur.PictureURL, cur.UpdatedAt = u.Email, u.Name, u.PictureURL, u.UpdatedAt
	return nil
}

func clone(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
