// Package service ties the external login, the user directory and the session manager together.
package service

import (
	"context"
	"errors"
	"fmt"

	sessiondomain "budget-tracker/backend/internal/session/domain"
	sessionservice "budget-tracker/backend/internal/session/service"
	userdomain "budget-tracker/backend/internal/user/domain"
)

// ErrInvalidRefreshToken is returned by Refresh for any unusable refresh secret.
var ErrInvalidRefreshToken = sessionservice.ErrSessionInvalid

// AuthResult holds the outcome of a login or refresh.
type AuthResult struct {
	Tokens *sessionservice.TokenPair
	User   *userdomain.User
}

// UserDirectory is the minimal user directory needed by the auth service.
type UserDirectory interface {
	ResolveOrCreate(ctx context.Context, p userdomain.Profile) (*userdomain.User, error)
}

// SessionManager is the minimal session manager needed by the auth service.
type SessionManager interface {
	Login(ctx context.Context, u *userdomain.User, fp sessiondomain.Fingerprint) (*sessionservice.TokenPair, error)
	Rotate(ctx context.Context, secret string, fp sessiondomain.Fingerprint) (*sessionservice.TokenPair, *userdomain.User, error)
	Revoke(ctx context.Context, secret string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

// AuthService implements login completion, refresh, logout and logout-everywhere.
type AuthService struct {
	users    UserDirectory
	sessions SessionManager
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(users UserDirectory, sessions SessionManager) *AuthService {
	return &AuthService{users: users, sessions: sessions}
}

// CompleteLogin is called once the identity provider has verified the caller. It links the
// external subject to a local user and opens a refresh session.
func (s *AuthService) CompleteLogin(ctx context.Context, p userdomain.Profile, fp sessiondomain.Fingerprint) (*AuthResult, error) {
	u, err := s.users.ResolveOrCreate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	pair, err := s.sessions.Login(ctx, u, fp)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Tokens: pair, User: u}, nil
}

// Refresh rotates the refresh secret. Returns ErrInvalidRefreshToken when the secret is unusable.
func (s *AuthService) Refresh(ctx context.Context, secret string, fp sessiondomain.Fingerprint) (*AuthResult, error) {
	pair, u, err := s.sessions.Rotate(ctx, secret, fp)
	if err != nil {
		if errors.Is(err, sessionservice.ErrSessionInvalid) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	return &AuthResult{Tokens: pair, User: u}, nil
}

// Logout revokes the session behind secret. Idempotent.
func (s *AuthService) Logout(ctx context.Context, secret string) error {
	return s.sessions.Revoke(ctx, secret)
}

// LogoutAll revokes every session of userID and returns how many were removed.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.New("logout all: user id is required")
	}
	return s.sessions.RevokeAll(ctx, userID)
}
