// Package handler serves liveness and readiness probes.
package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/server/respond"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler answers /healthz and /readyz.
type Handler struct {
	db     Pinger
	logger *zap.Logger
}

// New returns a Handler. db may be nil when the server runs without a database.
func New(db Pinger, logger *zap.Logger) *Handler {
	return &Handler{db: db, logger: logging.OrNop(logger)}
}

// Live always answers 200 while the process serves requests.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready answers 200 when the database responds to a ping, 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
