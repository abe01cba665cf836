// Package service resolves external identities to local users.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"budget-tracker/backend/internal/user/domain"
	"budget-tracker/backend/internal/user/repository"
)

// ErrSubjectRequired is returned when a login carries no external subject.
var ErrSubjectRequired = errors.New("external subject is required")

// Directory resolves or creates local users for verified external subjects.
type Directory struct {
	repo repository.Repository
	now  func() time.Time
}

// NewDirectory returns a Directory backed by repo. now may be nil; then time.Now is used.
func NewDirectory(repo repository.Repository, now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{repo: repo, now: now}
}

// ResolveOrCreate returns the user linked to p.Subject, creating it on first login.
// Profile changes from the provider are written back to an existing user.
func (d *Directory) ResolveOrCreate(ctx context.Context, p domain.Profile) (*domain.User, error) {
	p.Subject = strings.TrimSpace(p.Subject)
	if p.Subject == "" {
		return nil, ErrSubjectRequired
	}
	u, err := d.repo.GetBySubject(ctx, p.Subject)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u != nil {
		return d.refresh(ctx, u, p)
	}

	now := d.now().UTC()
	u = &domain.User{
		ID:        uuid.New().String(),
		Subject:   p.Subject,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.Apply(p)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	err = d.repo.Create(ctx, u)
	if errors.Is(err, repository.ErrDuplicateSubject) {
		// Concurrent first login for the same subject; the other insert won.
		existing, lookupErr := d.repo.GetBySubject(ctx, p.Subject)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup user: %w", lookupErr)
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetByID returns the user with the given internal id, or nil if there is none.
func (d *Directory) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return d.repo.GetByID(ctx, id)
}

// GetBySubject returns the user linked to the external subject, or nil if there is none.
func (d *Directory) GetBySubject(ctx context.Context, subject string) (*domain.User, error) {
	return d.repo.GetBySubject(ctx, subject)
}

func (d *Directory) refresh(ctx context.Context, u *domain.User, p domain.Profile) (*domain.User, error) {
	if !u.DiffersFrom(p) {
		return u, nil
	}
	u.Apply(p)
	u.UpdatedAt = d.now().UTC()
	if err := d.repo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}
