package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"budget-tracker/backend/internal/security"
	sessiondomain "budget-tracker/backend/internal/session/domain"
	sessionrepo "budget-tracker/backend/internal/session/repository"
	sessionservice "budget-tracker/backend/internal/session/service"
	userdomain "budget-tracker/backend/internal/user/domain"
	userrepo "budget-tracker/backend/internal/user/repository"
	userservice "budget-tracker/backend/internal/user/service"
)

var laptop = sessiondomain.Fingerprint{UserAgent: "laptop", IPAddress: "192.0.2.1"}

func newAuthService(t *testing.T) (*AuthService, *security.TokenProvider) {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	dir := userservice.NewDirectory(userrepo.NewMemoryRepository(), nil)
	mgr := sessionservice.NewManager(sessionrepo.NewMemoryRepository(), dir, tokens, nil, nil, sessionservice.Config{RefreshTTL: time.Hour})
	return NewAuthService(dir, mgr), tokens
}

func TestCompleteLogin_CreatesUserOnce(t *testing.T) {
	ctx := context.Background()
	svc, tokens := newAuthService(t)
	profile := userdomain.Profile{Subject: "google-42", Email: "c@example.com", Name: "Cy"}

	first, err := svc.CompleteLogin(ctx, profile, laptop)
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	second, err := svc.CompleteLogin(ctx, profile, laptop)
	if err != nil {
		t.Fatalf("CompleteLogin again: %v", err)
	}
	if first.User.ID != second.User.ID {
		t.Errorf("second login created a new user: %q vs %q", first.User.ID, second.User.ID)
	}
	sub, err := tokens.ExtractSubject(first.Tokens.AccessToken)
	if err != nil || sub != "google-42" {
		t.Errorf("access token subject = %q, %v", sub, err)
	}
}

func TestCompleteLogin_RequiresSubject(t *testing.T) {
	svc, _ := newAuthService(t)
	_, err := svc.CompleteLogin(context.Background(), userdomain.Profile{Email: "x@example.com"}, laptop)
	if !errors.Is(err, userservice.ErrSubjectRequired) {
		t.Fatalf("want ErrSubjectRequired, got %v", err)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthService(t)
	login, err := svc.CompleteLogin(ctx, userdomain.Profile{Subject: "google-7", Email: "d@example.com"}, laptop)
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, login.Tokens.RefreshToken, laptop)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.User.ID != login.User.ID {
		t.Errorf("refresh user = %q, want %q", refreshed.User.ID, login.User.ID)
	}
	if _, err := svc.Refresh(ctx, login.Tokens.RefreshToken, laptop); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("reuse: want ErrInvalidRefreshToken, got %v", err)
	}

	if err := svc.Logout(ctx, refreshed.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, refreshed.Tokens.RefreshToken, laptop); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("after logout: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthService(t)
	profile := userdomain.Profile{Subject: "google-8"}
	var secrets []string
	var userID string
	for i := 0; i < 3; i++ {
		res, err := svc.CompleteLogin(ctx, profile, laptop)
		if err != nil {
			t.Fatalf("CompleteLogin: %v", err)
		}
		secrets = append(secrets, res.Tokens.RefreshToken)
		userID = res.User.ID
	}
	n, err := svc.LogoutAll(ctx, userID)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}
	for _, s := range secrets {
		if _, err := svc.Refresh(ctx, s, laptop); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Errorf("secret survived LogoutAll: %v", err)
		}
	}
	if _, err := svc.LogoutAll(ctx, ""); err == nil {
		t.Error("LogoutAll with empty user id should fail")
	}
}
