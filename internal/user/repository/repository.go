package repository

import (
	"context"
	"errors"

	"budget-tracker/backend/internal/user/domain"
)

// ErrDuplicateSubject is returned by Create when a user with the same subject already exists.
var ErrDuplicateSubject = errors.New("user with this subject already exists")

// Repository defines persistence for users.
type Repository interface {
	// GetByID returns the user for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetBySubject returns the user linked to the external subject, or nil if not found.
	GetBySubject(ctx context.Context, subject string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// Update stores email, name, picture and updated_at for an existing user.
	Update(ctx context.Context, u *domain.User) error
}
