package repository

import (
	"context"
	"time"

	"budget-tracker/backend/internal/session/domain"
)

// Repository defines persistence for refresh sessions. It holds no business rules.
type Repository interface {
	Create(ctx context.Context, s *domain.RefreshSession) error
	// GetByHash returns the session with the given secret hash, or nil if not found.
	GetByHash(ctx context.Context, hash string) (*domain.RefreshSession, error)
	// DeleteByHash removes the session and reports whether a row was removed.
	DeleteByHash(ctx context.Context, hash string) (bool, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	// DeleteExpired removes every session with ExpiresAt < now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// CountForUser counts all stored sessions of the user, including expired ones not yet swept.
	CountForUser(ctx context.Context, userID string) (int64, error)
	// ListLiveForUser returns sessions with ExpiresAt > now, oldest first.
	ListLiveForUser(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshSession, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// LockUser serializes session writes of userID until the surrounding transaction ends.
	// Outside a transaction it is a no-op.
	LockUser(ctx context.Context, userID string) error
	// InTx runs fn against a repository bound to a single transaction when the backend supports it.
	InTx(ctx context.Context, fn func(Repository) error) error
}
