// Package handler exposes the caller's own refresh sessions over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/server/middleware"
	"budget-tracker/backend/internal/server/respond"
	"budget-tracker/backend/internal/session/domain"
	"budget-tracker/backend/internal/session/service"
)

// Sessions is the part of the session manager this handler needs.
type Sessions interface {
	ListSessions(ctx context.Context, userID string) ([]*domain.RefreshSession, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
}

// SessionView is the public shape of a session. The secret hash never leaves the server.
type SessionView struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	UserAgent  string     `json:"userAgent,omitempty"`
	IPAddress  string     `json:"ipAddress,omitempty"`
}

// Handler serves /auth/sessions. Routes must sit behind middleware.RequireAuth.
type Handler struct {
	sessions Sessions
	logger   *zap.Logger
}

// New returns a Handler. logger may be nil.
func New(sessions Sessions, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, logger: logging.OrNop(logger)}
}

// Routes mounts the session routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Delete("/{id}", h.Revoke)
}

// List returns the caller's live sessions, oldest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions, err := h.sessions.ListSessions(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("list sessions", zap.String("user_id", p.UserID), zap.Error(err))
		respond.Internal(w)
		return
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			ID:         s.ID,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
			UserAgent:  s.UserAgent,
			IPAddress:  s.IPAddress,
		})
	}
	respond.JSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// Revoke deletes one of the caller's sessions.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		respond.Error(w, http.StatusBadRequest, "session id required")
		return
	}
	err := h.sessions.RevokeSession(r.Context(), p.UserID, id)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		respond.Error(w, http.StatusNotFound, "session not found")
	case err != nil:
		h.logger.Error("revoke session", zap.String("user_id", p.UserID), zap.String("session_id", id), zap.Error(err))
		respond.Internal(w)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
