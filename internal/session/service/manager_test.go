package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"budget-tracker/backend/internal/security"
	"budget-tracker/backend/internal/session/domain"
	"budget-tracker/backend/internal/session/repository"
	telemetrydomain "budget-tracker/backend/internal/telemetry/domain"
	userdomain "budget-tracker/backend/internal/user/domain"
)

type fakeUsers map[string]*userdomain.User

func (f fakeUsers) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	return f[id], nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingEmitter struct {
	ch chan *telemetrydomain.AuthEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, ev *telemetrydomain.AuthEvent) error {
	r.ch <- ev
	return nil
}

func waitForEvent(t *testing.T, ch <-chan *telemetrydomain.AuthEvent, want telemetrydomain.EventType) *telemetrydomain.AuthEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event emitted", want)
			return nil
		}
	}
}

var (
	ann   = &userdomain.User{ID: "u1", Subject: "google-1", Email: "ann@example.com", Name: "Ann"}
	bob   = &userdomain.User{ID: "u2", Subject: "google-2", Email: "bob@example.com", Name: "Bob"}
	phone = domain.Fingerprint{UserAgent: "phone", IPAddress: "10.0.0.1"}
)

type harness struct {
	m      *Manager
	repo   *repository.MemoryRepository
	clock  *testClock
	tokens *security.TokenProvider
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens, err := security.NewTestTokenProvider(security.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	repo := repository.NewMemoryRepository()
	cfg.Now = clock.Now
	m := NewManager(repo, fakeUsers{ann.ID: ann, bob.ID: bob}, tokens, nil, nil, cfg)
	return &harness{m: m, repo: repo, clock: clock, tokens: tokens}
}

func TestLogin_IssuesPair(t *testing.T) {
	h := newHarness(t, Config{RefreshTTL: 24 * time.Hour})
	pair, err := h.m.Login(context.Background(), ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.RefreshToken == "" || pair.AccessToken == "" {
		t.Fatal("empty token in pair")
	}
	if pair.ExpiresIn != int64(h.tokens.TTL()/time.Second) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int64(h.tokens.TTL()/time.Second))
	}
	if want := h.clock.Now().Add(24 * time.Hour); !pair.RefreshExpiresAt.Equal(want) {
		t.Errorf("RefreshExpiresAt = %v, want %v", pair.RefreshExpiresAt, want)
	}
	claims, err := h.tokens.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != ann.Subject || claims.UserID != ann.ID {
		t.Errorf("claims sub=%q uid=%q", claims.Subject, claims.UserID)
	}
	stored, _ := h.repo.GetByHash(context.Background(), security.HashRefreshToken(pair.RefreshToken))
	if stored == nil {
		t.Fatal("session not stored under the secret hash")
	}
	if stored.UserAgent != phone.UserAgent || stored.IPAddress != phone.IPAddress {
		t.Errorf("fingerprint not stored: %+v", stored)
	}
}

func TestRotate_SingleUse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	first, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	second, u, err := h.m.Rotate(ctx, first.RefreshToken, phone)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if u.ID != ann.ID {
		t.Errorf("rotated user = %q, want %q", u.ID, ann.ID)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation returned the same secret")
	}
	if _, _, err := h.m.Rotate(ctx, first.RefreshToken, phone); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("reuse of rotated secret: want ErrSessionInvalid, got %v", err)
	}
	if _, _, err := h.m.Rotate(ctx, second.RefreshToken, phone); err != nil {
		t.Fatalf("Rotate new secret: %v", err)
	}
	if h.repo.Len() != 1 {
		t.Errorf("stored sessions = %d, want 1", h.repo.Len())
	}
}

func TestRotate_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	for _, secret := range []string{"", "   ", "never-issued"} {
		if _, _, err := h.m.Rotate(ctx, secret, phone); !errors.Is(err, ErrSessionInvalid) {
			t.Errorf("Rotate(%q): want ErrSessionInvalid, got %v", secret, err)
		}
	}
}

func TestRotate_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{RefreshTTL: time.Hour})
	pair, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	h.clock.Advance(time.Hour)
	if _, _, err := h.m.Rotate(ctx, pair.RefreshToken, phone); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("Rotate at ExpiresAt: want ErrSessionInvalid, got %v", err)
	}
	if h.repo.Len() != 0 {
		t.Errorf("expired session not deleted, %d left", h.repo.Len())
	}
}

func TestRotate_ExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{RefreshTTL: time.Hour})
	first, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	h.clock.Advance(59 * time.Minute)
	second, _, err := h.m.Rotate(ctx, first.RefreshToken, phone)
	if err != nil {
		t.Fatalf("Rotate just before expiry: %v", err)
	}
	if !second.RefreshExpiresAt.After(first.RefreshExpiresAt) {
		t.Errorf("new expiry %v not after old %v", second.RefreshExpiresAt, first.RefreshExpiresAt)
	}
}

func TestRotate_UserGone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	ghost := &userdomain.User{ID: "ghost", Subject: "gone"}
	pair, err := h.m.Login(ctx, ghost, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := h.m.Rotate(ctx, pair.RefreshToken, phone); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("Rotate for unknown user: want ErrSessionInvalid, got %v", err)
	}
}

func TestLogin_EvictionBound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{MaxSessionsPerUser: 3})
	var ids []string
	for i := 0; i < 5; i++ {
		pair, err := h.m.Login(ctx, ann, phone)
		if err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		ids = append(ids, pair.SessionID)
		h.clock.Advance(time.Second)
	}
	if _, err := h.m.Login(ctx, bob, phone); err != nil {
		t.Fatalf("Login bob: %v", err)
	}

	live, err := h.m.ListSessions(ctx, ann.ID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(live) != 3 {
		t.Fatalf("live sessions = %d, want 3", len(live))
	}
	for i, s := range live {
		if s.ID != ids[i+2] {
			t.Errorf("live[%d] = %s, want %s (newest kept)", i, s.ID, ids[i+2])
		}
	}
	if bobs, _ := h.m.ListSessions(ctx, bob.ID); len(bobs) != 1 {
		t.Errorf("bob sessions = %d, want 1", len(bobs))
	}
}

func TestRotate_RespectsEvictionBound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{MaxSessionsPerUser: 2})
	a, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.m.Login(ctx, ann, phone); err != nil {
		t.Fatalf("Login: %v", err)
	}
	h.clock.Advance(time.Second)
	if _, _, err := h.m.Rotate(ctx, a.RefreshToken, phone); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if live, _ := h.m.ListSessions(ctx, ann.ID); len(live) != 2 {
		t.Errorf("live sessions = %d, want 2", len(live))
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	pair, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.m.Revoke(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("Revoke #%d: %v", i+1, err)
		}
	}
	if err := h.m.Revoke(ctx, ""); err != nil {
		t.Fatalf("Revoke blank: %v", err)
	}
	if _, _, err := h.m.Rotate(ctx, pair.RefreshToken, phone); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("Rotate after revoke: want ErrSessionInvalid, got %v", err)
	}
}

func TestRevoke_EventCarriesSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	events := &recordingEmitter{ch: make(chan *telemetrydomain.AuthEvent, 16)}
	h.m.emitter = events
	pair, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.m.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	ev := waitForEvent(t, events.ch, telemetrydomain.EventRevoke)
	if ev.UserID != ann.ID || ev.SessionID != pair.SessionID {
		t.Errorf("revoke event user=%q session=%q, want %q %q", ev.UserID, ev.SessionID, ann.ID, pair.SessionID)
	}
	if ev.UserAgent != phone.UserAgent {
		t.Errorf("revoke event user agent = %q, want %q", ev.UserAgent, phone.UserAgent)
	}
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	for i := 0; i < 3; i++ {
		if _, err := h.m.Login(ctx, ann, phone); err != nil {
			t.Fatalf("Login: %v", err)
		}
	}
	keep, err := h.m.Login(ctx, bob, phone)
	if err != nil {
		t.Fatalf("Login bob: %v", err)
	}
	n, err := h.m.RevokeAll(ctx, ann.ID)
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}
	if _, _, err := h.m.Rotate(ctx, keep.RefreshToken, phone); err != nil {
		t.Errorf("other user's session should survive: %v", err)
	}
}

func TestRevokeSession_Ownership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	pair, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.m.RevokeSession(ctx, bob.ID, pair.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("RevokeSession by other user: want ErrSessionNotFound, got %v", err)
	}
	if err := h.m.RevokeSession(ctx, ann.ID, pair.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if err := h.m.RevokeSession(ctx, ann.ID, pair.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("RevokeSession twice: want ErrSessionNotFound, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	now := h.clock.Now()
	expires := []time.Time{now.Add(-time.Hour), now.Add(-time.Minute), now.Add(-time.Second), now, now.Add(time.Hour)}
	for i, exp := range expires {
		err := h.repo.Create(ctx, &domain.RefreshSession{
			ID: string(rune('a' + i)), SecretHash: string(rune('A' + i)), UserID: ann.ID,
			CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: exp,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	n, err := h.m.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 3 {
		t.Errorf("swept = %d, want 3", n)
	}
	if h.repo.Len() != 2 {
		t.Errorf("remaining = %d, want 2", h.repo.Len())
	}
	if s, _ := h.repo.GetByHash(ctx, "D"); s == nil {
		t.Error("session expiring exactly at now was swept")
	}
}

func TestRotate_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	pair, err := h.m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var wins, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.m.Rotate(ctx, pair.RefreshToken, phone)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrSessionInvalid):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("Rotate: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || rejected != 7 {
		t.Errorf("wins=%d rejected=%d, want 1 and 7", wins, rejected)
	}
}

func TestRotate_FingerprintPolicies(t *testing.T) {
	ctx := context.Background()
	laptop := domain.Fingerprint{UserAgent: "laptop", IPAddress: "10.0.0.2"}

	t.Run("log", func(t *testing.T) {
		h := newHarness(t, Config{})
		events := &recordingEmitter{ch: make(chan *telemetrydomain.AuthEvent, 16)}
		h.m.emitter = events
		pair, err := h.m.Login(ctx, ann, phone)
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if _, _, err := h.m.Rotate(ctx, pair.RefreshToken, laptop); err != nil {
			t.Fatalf("Rotate under log policy: %v", err)
		}
		ev := waitForEvent(t, events.ch, telemetrydomain.EventAnomaly)
		if ev.Detail != "fingerprint_mismatch" || ev.IPAddress != laptop.IPAddress {
			t.Errorf("anomaly event = %+v", ev)
		}
	})

	t.Run("reject", func(t *testing.T) {
		h := newHarness(t, Config{FingerprintPolicy: FingerprintReject})
		pair, err := h.m.Login(ctx, ann, phone)
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if _, _, err := h.m.Rotate(ctx, pair.RefreshToken, laptop); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("Rotate under reject policy: want ErrSessionInvalid, got %v", err)
		}
		if h.repo.Len() != 0 {
			t.Errorf("rejected session not deleted")
		}
	})
}

func TestParseFingerprintPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FingerprintPolicy
		wantErr bool
	}{
		{"", FingerprintLog, false},
		{"log", FingerprintLog, false},
		{" REJECT ", FingerprintReject, false},
		{"block", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFingerprintPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFingerprintPolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

type lockingRepo struct {
	*repository.MemoryRepository
	mu    sync.Mutex
	calls []string
}

func (l *lockingRepo) record(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *lockingRepo) LockUser(ctx context.Context, userID string) error {
	l.record("lock:" + userID)
	return nil
}

func (l *lockingRepo) CountForUser(ctx context.Context, userID string) (int64, error) {
	l.record("count:" + userID)
	return l.MemoryRepository.CountForUser(ctx, userID)
}

func (l *lockingRepo) InTx(ctx context.Context, fn func(repository.Repository) error) error {
	return fn(l)
}

func TestEvict_LocksUserBeforeCounting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	repo := &lockingRepo{MemoryRepository: h.repo}
	m := NewManager(repo, fakeUsers{ann.ID: ann}, h.tokens, nil, nil, Config{Now: h.clock.Now})

	pair, err := m.Login(ctx, ann, phone)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := m.Rotate(ctx, pair.RefreshToken, phone); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	want := []string{"lock:" + ann.ID, "count:" + ann.ID, "lock:" + ann.ID, "count:" + ann.ID}
	if len(repo.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", repo.calls, want)
	}
	for i := range want {
		if repo.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", repo.calls, want)
		}
	}
}

type failingRepo struct {
	*repository.MemoryRepository
}

func (failingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestSweeper_RunsOnceAndStops(t *testing.T) {
	h := newHarness(t, Config{})
	now := h.clock.Now()
	_ = h.repo.Create(context.Background(), &domain.RefreshSession{ID: "old", SecretHash: "old", UserID: ann.ID, ExpiresAt: now.Add(-time.Minute)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		NewSweeper(h.m, time.Hour, nil).Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	if h.repo.Len() != 0 {
		t.Errorf("initial sweep did not run, %d sessions left", h.repo.Len())
	}
}

func TestSweeper_StoreErrorIsSwallowed(t *testing.T) {
	clock := &testClock{t: time.Now()}
	m := NewManager(failingRepo{repository.NewMemoryRepository()}, fakeUsers{}, nil, nil, nil, Config{Now: clock.Now})
	if n := NewSweeper(m, 0, nil).SweepOnce(context.Background()); n != 0 {
		t.Errorf("SweepOnce on failing store = %d, want 0", n)
	}
}
