package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"budget-tracker/backend/internal/security"
)

func issueToken(t *testing.T, p *security.TokenProvider) string {
	t.Helper()
	token, _, err := p.Issue(security.AccessSubject{Subject: "google-1", UserID: "u1", Email: "a@example.com", Name: "Ann"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

// captureHandler records the principal seen by the downstream handler.
func captureHandler(got *Principal, seen *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *seen = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	valid := issueToken(t, tokens)

	otherKey, err := security.GenerateKeyPair(time.Now())
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	foreign := issueToken(t, security.NewTokenProvider(otherKey, "test-issuer", time.Hour))

	tests := []struct {
		name     string
		header   string
		wantAuth bool
	}{
		{"no header", "", false},
		{"valid", "Bearer " + valid, true},
		{"lowercase scheme", "bearer " + valid, true},
		{"padded", "  BEARER   " + valid + "  ", true},
		{"basic scheme", "Basic dXNlcjpwYXNz", false},
		{"empty bearer", "Bearer ", false},
		{"garbage", "Bearer not-a-jwt", false},
		{"other key pair", "Bearer " + foreign, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Principal
			var seen bool
			h := Authenticate(tokens, nil)(captureHandler(&got, &seen))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Fatalf("gate wrote a response: status %d", rec.Code)
			}
			if seen != tt.wantAuth {
				t.Fatalf("authenticated = %v, want %v", seen, tt.wantAuth)
			}
			if tt.wantAuth && (got.Subject != "google-1" || got.UserID != "u1" || got.Email != "a@example.com") {
				t.Errorf("principal = %+v", got)
			}
		})
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens, err := security.NewTestTokenProvider(security.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token := issueToken(t, tokens)
	now = now.Add(tokens.TTL() + time.Second)

	var got Principal
	var seen bool
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	Authenticate(tokens, nil)(captureHandler(&got, &seen)).ServeHTTP(httptest.NewRecorder(), req)
	if seen {
		t.Error("expired token authenticated")
	}
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	RequireAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no principal: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = req.WithContext(WithPrincipal(req.Context(), Principal{Subject: "s", UserID: "u"}))
	rec = httptest.NewRecorder()
	RequireAuth(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with principal: status = %d, want 200", rec.Code)
	}
}
