// Package audit keeps a queryable Postgres trail of auth lifecycle events.
package audit

import (
	"context"

	"github.com/google/uuid"

	"budget-tracker/backend/internal/audit/domain"
	auditrepo "budget-tracker/backend/internal/audit/repository"
	telemetrydomain "budget-tracker/backend/internal/telemetry/domain"
)

// Logger persists auth events as audit rows. It implements telemetry.EventEmitter, so it joins
// the emitter fanout and is called asynchronously.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns a Logger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// Emit writes one audit entry for event.
func (l *Logger) Emit(ctx context.Context, event *telemetrydomain.AuthEvent) error {
	if l == nil || l.repo == nil || event == nil {
		return nil
	}
	return l.repo.Create(ctx, FromEvent(event))
}

// FromEvent maps an auth event to an audit row with a fresh id.
func FromEvent(event *telemetrydomain.AuthEvent) *domain.AuditLog {
	return &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    event.UserID,
		SessionID: event.SessionID,
		Action:    string(event.Type),
		Source:    event.Source,
		IP:        event.IPAddress,
		UserAgent: event.UserAgent,
		Detail:    event.Detail,
		Count:     event.Count,
		CreatedAt: event.CreatedAt.UTC(),
	}
}
