// Package handler serves the caller's own profile.
package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/server/middleware"
	"budget-tracker/backend/internal/server/respond"
	"budget-tracker/backend/internal/user/domain"
)

// Users looks up users by internal id.
type Users interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type profileResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	PictureURL string `json:"pictureUrl,omitempty"`
}

// Handler serves GET /api/me.
type Handler struct {
	users  Users
	logger *zap.Logger
}

// New returns a Handler. logger may be nil.
func New(users Users, logger *zap.Logger) *Handler {
	return &Handler{users: users, logger: logging.OrNop(logger)}
}

// Me returns the authenticated caller's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	u, err := h.users.GetByID(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("load profile", zap.String("user_id", p.UserID), zap.Error(err))
		respond.Internal(w)
		return
	}
	if u == nil {
		respond.Error(w, http.StatusNotFound, "user not found")
		return
	}
	respond.JSON(w, http.StatusOK, profileResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		PictureURL: u.PictureURL,
	})
}
