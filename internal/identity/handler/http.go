// Package handler serves the /auth endpoints: refresh, logout, status and login completion.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	identityservice "budget-tracker/backend/internal/identity/service"
	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/server/middleware"
	"budget-tracker/backend/internal/server/respond"
	sessiondomain "budget-tracker/backend/internal/session/domain"
	userdomain "budget-tracker/backend/internal/user/domain"
	userservice "budget-tracker/backend/internal/user/service"
)

// RefreshCookieName is the HttpOnly cookie carrying the refresh secret.
const RefreshCookieName = "refresh_token"

const (
	defaultCookieMaxAge = 30 * 24 * time.Hour
	maxLoginBodyBytes   = 1 << 16

	msgNoRefreshToken  = "No refresh token provided"
	msgInvalidRefresh  = "Invalid or expired refresh token"
	msgRefreshFailed   = "Token refresh failed"
	msgLoggedOut       = "Logged out successfully"
	msgLoginFailed     = "Failed to generate token"
	msgBadLoginRequest = "subject is required"
)

// Auth is the auth service used by the handler.
type Auth interface {
	CompleteLogin(ctx context.Context, p userdomain.Profile, fp sessiondomain.Fingerprint) (*identityservice.AuthResult, error)
	Refresh(ctx context.Context, secret string, fp sessiondomain.Fingerprint) (*identityservice.AuthResult, error)
	Logout(ctx context.Context, secret string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
}

// Options configure cookies and the status response.
type Options struct {
	CookieSecure   bool
	CookieSameSite http.SameSite
	// CookieMaxAge is the refresh cookie lifetime; 0 means 30 days.
	CookieMaxAge time.Duration
	// DevEnv adds "env":"dev" to the status response.
	DevEnv bool
}

// Handler serves the auth endpoints.
type Handler struct {
	auth   Auth
	opts   Options
	logger *zap.Logger
}

// New returns a Handler. logger may be nil.
func New(auth Auth, opts Options, logger *zap.Logger) *Handler {
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = defaultCookieMaxAge
	}
	if opts.CookieSameSite == 0 {
		opts.CookieSameSite = http.SameSiteStrictMode
	}
	return &Handler{auth: auth, opts: opts, logger: logging.OrNop(logger)}
}

type userBody struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type tokenResponse struct {
	AccessToken string   `json:"accessToken"`
	ExpiresIn   int64    `json:"expiresIn"`
	User        userBody `json:"user"`
}

// Refresh exchanges the refresh cookie for a new access token and a new refresh cookie.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	secret := h.refreshCookie(r)
	if secret == "" {
		respond.Error(w, http.StatusBadRequest, msgNoRefreshToken)
		return
	}
	res, err := h.auth.Refresh(r.Context(), secret, fingerprint(r))
	if err != nil {
		h.clearCookie(w)
		if errors.Is(err, identityservice.ErrInvalidRefreshToken) {
			respond.Error(w, http.StatusUnauthorized, msgInvalidRefresh)
			return
		}
		h.logger.Error("refresh failed", zap.Error(err))
		respond.Error(w, http.StatusUnauthorized, msgRefreshFailed)
		return
	}
	h.setCookie(w, res.Tokens.RefreshToken)
	respond.JSON(w, http.StatusOK, toTokenResponse(res))
}

// Logout revokes the refresh cookie's session if there is one and always clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if secret := h.refreshCookie(r); secret != "" {
		if err := h.auth.Logout(r.Context(), secret); err != nil {
			h.logger.Warn("logout revoke failed", zap.Error(err))
		}
	}
	h.clearCookie(w)
	respond.JSON(w, http.StatusOK, map[string]string{"message": msgLoggedOut})
}

// Status reports whether the request carries a valid access token.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"authenticated": false}
	if p, ok := middleware.PrincipalFrom(r.Context()); ok {
		body["authenticated"] = true
		body["username"] = p.Subject
	}
	if h.opts.DevEnv {
		body["env"] = "dev"
	}
	respond.JSON(w, http.StatusOK, body)
}

// LogoutAll revokes every session of the authenticated caller.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	n, err := h.auth.LogoutAll(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("logout all failed", zap.String("user_id", p.UserID), zap.Error(err))
		respond.Internal(w)
		return
	}
	h.clearCookie(w)
	respond.JSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// DevLogin stands in for the identity provider callback in development. The body is a Profile.
func (h *Handler) DevLogin(w http.ResponseWriter, r *http.Request) {
	var p userdomain.Profile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)).Decode(&p); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.CompleteLogin(w, r, p)
}

// CompleteLogin finishes a verified external login: it opens a session, sets the refresh cookie
// and redirects to /?token=...&user=... . Clients sending Accept: application/json get the
// token response as JSON instead.
func (h *Handler) CompleteLogin(w http.ResponseWriter, r *http.Request, p userdomain.Profile) {
	res, err := h.auth.CompleteLogin(r.Context(), p, fingerprint(r))
	if err != nil {
		if errors.Is(err, userservice.ErrSubjectRequired) {
			respond.Error(w, http.StatusBadRequest, msgBadLoginRequest)
			return
		}
		h.logger.Error("complete login failed", zap.String("subject", p.Subject), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, msgLoginFailed)
		return
	}
	h.setCookie(w, res.Tokens.RefreshToken)

	body := toTokenResponse(res)
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		respond.JSON(w, http.StatusOK, body)
		return
	}
	userJSON, err := json.Marshal(body.User)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, msgLoginFailed)
		return
	}
	q := url.Values{}
	q.Set("token", body.AccessToken)
	q.Set("user", string(userJSON))
	http.Redirect(w, r, "/?"+q.Encode(), http.StatusFound)
}

func toTokenResponse(res *identityservice.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken: res.Tokens.AccessToken,
		ExpiresIn:   res.Tokens.ExpiresIn,
		User: userBody{
			ID:    res.User.ID,
			Email: res.User.Email,
			Name:  res.User.Name,
		},
	}
}

func (h *Handler) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (h *Handler) setCookie(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    secret,
		Path:     "/",
		MaxAge:   int(h.opts.CookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: h.opts.CookieSameSite,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: h.opts.CookieSameSite,
	})
}

func fingerprint(r *http.Request) sessiondomain.Fingerprint {
	return sessiondomain.Fingerprint{
		UserAgent: r.UserAgent(),
		IPAddress: middleware.ClientIP(r),
	}
}
