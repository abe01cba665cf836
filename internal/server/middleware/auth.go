// Package middleware holds the chi middleware chain: authentication gate, client IP and request logging.
package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/security"
	"budget-tracker/backend/internal/server/respond"
)

const bearerPrefix = "bearer "

// TokenVerifier verifies access tokens. *security.TokenProvider implements it.
type TokenVerifier interface {
	Verify(token string) (*security.AccessClaims, error)
}

// Authenticate returns middleware that attaches a Principal to the request context when the
// request carries a valid Bearer access token. It never writes a response: requests without
// a token, or with a bad one, continue unauthenticated.
func Authenticate(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := verifyBearer(verifier, r, logger); ok {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth answers 401 when the Authenticate gate found no principal.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			respond.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func verifyBearer(verifier TokenVerifier, r *http.Request, logger *zap.Logger) (Principal, bool) {
	token := extractBearer(r)
	if token == "" {
		return Principal{}, false
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		logger.Debug("access token rejected", zap.String("path", r.URL.Path), zap.Error(err))
		return Principal{}, false
	}
	return Principal{
		Subject: claims.Subject,
		UserID:  claims.UserID,
		Email:   claims.Email,
		Name:    claims.Name,
	}, true
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
