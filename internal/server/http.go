// Package server builds the HTTP router: middleware chain, public auth routes and protected routes.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	healthhandler "budget-tracker/backend/internal/health/handler"
	identityhandler "budget-tracker/backend/internal/identity/handler"
	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/server/middleware"
	"budget-tracker/backend/internal/server/respond"
	sessionhandler "budget-tracker/backend/internal/session/handler"
	userhandler "budget-tracker/backend/internal/user/handler"
)

// JWKSSource returns the public JSON Web Key Set. *security.KeyProvider implements it.
type JWKSSource interface {
	JWKS() ([]byte, error)
}

// Deps holds the services behind the HTTP routes.
type Deps struct {
	// Verifier checks Bearer access tokens for the authentication gate.
	Verifier middleware.TokenVerifier
	// Auth backs /auth/refresh, /auth/logout, /auth/logout-all and /auth/dev/login.
	Auth        identityhandler.Auth
	AuthOptions identityhandler.Options
	// Sessions backs /auth/sessions.
	Sessions sessionhandler.Sessions
	// Users backs /api/me.
	Users userhandler.Users
	// Keys serves /.well-known/jwks.json. If nil, the route is not registered.
	Keys JWKSSource
	// HealthPinger is used by /readyz (e.g. *sql.DB). If nil, readiness skips the DB ping.
	HealthPinger healthhandler.Pinger
	// Metrics serves /metrics. If nil, the route is not registered.
	Metrics http.Handler
	// DevLogin registers POST /auth/dev/login. Never set in production.
	DevLogin bool
	// AuthRateLimitPerMinute limits /auth/* requests per client IP; 0 disables the limit.
	AuthRateLimitPerMinute int
	// TrustProxyHeaders keys the rate limit on X-Forwarded-For / X-Real-IP instead of the
	// socket address. Only set it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
	// ServiceName names the otelhttp server spans. Empty disables otelhttp.
	ServiceName string
	Logger      *zap.Logger
}

// NewRouter returns the application's HTTP handler.
//
// Routes:
//   - GET  /healthz, /readyz              → internal/health/handler
//   - GET  /.well-known/jwks.json         → public signing key
//   - GET  /metrics                       → Prometheus
//   - POST /auth/refresh, /auth/logout    → internal/identity/handler
//   - GET  /auth/status                   → internal/identity/handler
//   - POST /auth/logout-all               → internal/identity/handler (auth required)
//   - GET, DELETE /auth/sessions[/{id}]   → internal/session/handler (auth required)
//   - POST /auth/dev/login                → internal/identity/handler (dev only)
//   - GET  /api/me                        → internal/user/handler (auth required)
func NewRouter(deps Deps) http.Handler {
	logger := logging.OrNop(deps.Logger)
	auth := identityhandler.New(deps.Auth, deps.AuthOptions, logger)
	health := healthhandler.New(deps.HealthPinger, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Authenticate(deps.Verifier, logger))
	r.Use(middleware.RequestLogger(logger))

	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)
	if deps.Keys != nil {
		r.Get("/.well-known/jwks.json", jwksHandler(deps.Keys, logger))
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		if deps.AuthRateLimitPerMinute > 0 {
			r.Use(httprate.Limit(deps.AuthRateLimitPerMinute, time.Minute, httprate.WithKeyFuncs(rateLimitKey(deps.TrustProxyHeaders))))
		}
		r.Post("/refresh", auth.Refresh)
		r.Post("/logout", auth.Logout)
		r.Get("/status", auth.Status)
		if deps.DevLogin {
			r.Post("/dev/login", auth.DevLogin)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/logout-all", auth.LogoutAll)
			if deps.Sessions != nil {
				r.Route("/sessions", sessionhandler.New(deps.Sessions, logger).Routes)
			}
		})
	})

	if deps.Users != nil {
		r.With(middleware.RequireAuth).Get("/api/me", userhandler.New(deps.Users, logger).Me)
	}

	if deps.ServiceName == "" {
		return r
	}
	return otelhttp.NewHandler(r, deps.ServiceName)
}

func rateLimitKey(trustProxy bool) httprate.KeyFunc {
	if !trustProxy {
		return httprate.KeyByIP
	}
	return func(r *http.Request) (string, error) {
		return middleware.ClientIP(r), nil
	}
}

func jwksHandler(keys JWKSSource, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := keys.JWKS()
		if err != nil {
			logger.Error("render jwks", zap.Error(err))
			respond.Internal(w)
			return
		}
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(raw)
	}
}
