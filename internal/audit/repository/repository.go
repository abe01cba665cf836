package repository

import (
	"context"

	"budget-tracker/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the newest entries of userID first, at most limit of them.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
}
