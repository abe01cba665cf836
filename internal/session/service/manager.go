// Package service owns the refresh-session lifecycle: login, rotation, revocation and sweeping.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/security"
	"budget-tracker/backend/internal/session/domain"
	"budget-tracker/backend/internal/session/repository"
	"budget-tracker/backend/internal/telemetry"
	telemetrydomain "budget-tracker/backend/internal/telemetry/domain"
	userdomain "budget-tracker/backend/internal/user/domain"
)

// Sentinel errors for the session manager; handlers map them to HTTP codes.
var (
	// ErrSessionInvalid covers unknown, expired, already-rotated and rejected refresh secrets.
	ErrSessionInvalid = errors.New("invalid or expired refresh token")
	// ErrSessionNotFound is returned when a caller revokes a session it does not own.
	ErrSessionNotFound = errors.New("session not found")
)

const (
	DefaultRefreshTTL         = 30 * 24 * time.Hour
	DefaultMaxSessionsPerUser = 5
	eventSource               = "session-manager"
)

// FingerprintPolicy decides what happens when a refresh secret is presented by a different client.
type FingerprintPolicy string

const (
	FingerprintLog    FingerprintPolicy = "log"
	FingerprintReject FingerprintPolicy = "reject"
)

// ParseFingerprintPolicy parses "log" or "reject" (case-insensitive). Empty means log.
func ParseFingerprintPolicy(s string) (FingerprintPolicy, error) {
	switch FingerprintPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FingerprintLog:
		return FingerprintLog, nil
	case FingerprintReject:
		return FingerprintReject, nil
	}
	return "", fmt.Errorf("unknown fingerprint policy %q", s)
}

// Config holds the manager's tunables. Zero values fall back to defaults.
type Config struct {
	RefreshTTL         time.Duration
	MaxSessionsPerUser int
	FingerprintPolicy  FingerprintPolicy
	// StoreTimeout bounds every store call made for one operation; 0 disables it.
	StoreTimeout time.Duration
	Now          func() time.Time
}

// TokenPair is what a successful login or rotation hands to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64 // access token lifetime in seconds
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// UserLookup is the minimal user directory needed by the manager.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// TokenIssuer issues access tokens. *security.TokenProvider implements it.
type TokenIssuer interface {
	Issue(s security.AccessSubject) (string, time.Time, error)
	TTL() time.Duration
}

// Manager creates, rotates and revokes refresh sessions. Safe for concurrent use.
type Manager struct {
	repo    repository.Repository
	users   UserLookup
	tokens  TokenIssuer
	emitter telemetry.EventEmitter
	logger  *zap.Logger
	cfg     Config
}

// NewManager returns a Manager. emitter and logger may be nil.
func NewManager(repo repository.Repository, users UserLookup, tokens TokenIssuer, emitter telemetry.EventEmitter, logger *zap.Logger, cfg Config) *Manager {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.MaxSessionsPerUser <= 0 {
		cfg.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	if cfg.FingerprintPolicy == "" {
		cfg.FingerprintPolicy = FingerprintLog
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		repo:    repo,
		users:   users,
		tokens:  tokens,
		emitter: emitter,
		logger:  logging.OrNop(logger),
		cfg:     cfg,
	}
}

// Login opens a new refresh session for u, evicting the oldest live sessions over the cap,
// and issues an access token.
func (m *Manager) Login(ctx context.Context, u *userdomain.User, fp domain.Fingerprint) (*TokenPair, error) {
	if u == nil || u.ID == "" {
		return nil, errors.New("login: user is required")
	}
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	now := m.now()
	secret, session, err := m.newSession(u.ID, fp, now)
	if err != nil {
		return nil, err
	}
	var evicted int64
	err = m.repo.InTx(ctx, func(tx repository.Repository) error {
		n, err := m.evict(ctx, tx, u.ID, now)
		if err != nil {
			return err
		}
		evicted = n
		return tx.Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	pair, err := m.issue(u, secret, session)
	if err != nil {
		return nil, err
	}
	m.emitEvict(u.ID, evicted)
	m.emit(telemetrydomain.EventLogin, session, fp, "", 0)
	return pair, nil
}

// Rotate exchanges a refresh secret for a new session and access token. The old secret stops
// working in the same transaction that creates the new one. Any rejection is ErrSessionInvalid.
func (m *Manager) Rotate(ctx context.Context, secret string, fp domain.Fingerprint) (*TokenPair, *userdomain.User, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil, ErrSessionInvalid
	}
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	now := m.now()
	hash := security.HashRefreshToken(secret)
	old, err := m.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup session: %w", err)
	}
	if old == nil {
		m.emitInvalid(fp, "unknown")
		return nil, nil, ErrSessionInvalid
	}
	if !old.IsLive(now) {
		if _, err := m.repo.DeleteByHash(ctx, hash); err != nil {
			m.logger.Warn("delete expired session", zap.String("session_id", old.ID), zap.Error(err))
		}
		m.emit(telemetrydomain.EventInvalid, old, fp, "expired", 0)
		return nil, nil, ErrSessionInvalid
	}
	if !fp.Matches(old) {
		m.logger.Warn("refresh fingerprint mismatch",
			zap.String("session_id", old.ID),
			zap.String("user_id", old.UserID),
			zap.String("stored_ip", old.IPAddress),
			zap.String("presented_ip", fp.IPAddress),
			zap.String("policy", string(m.cfg.FingerprintPolicy)),
		)
		m.emit(telemetrydomain.EventAnomaly, old, fp, "fingerprint_mismatch", 0)
		if m.cfg.FingerprintPolicy == FingerprintReject {
			if _, err := m.repo.DeleteByHash(ctx, hash); err != nil {
				return nil, nil, fmt.Errorf("delete rejected session: %w", err)
			}
			return nil, nil, ErrSessionInvalid
		}
	}
	if err := m.repo.TouchLastUsed(ctx, old.ID, now); err != nil {
		m.logger.Warn("touch session last used", zap.String("session_id", old.ID), zap.Error(err))
	}

	u, err := m.users.GetByID(ctx, old.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return nil, nil, ErrSessionInvalid
	}

	newSecret, session, err := m.newSession(u.ID, fp, now)
	if err != nil {
		return nil, nil, err
	}
	var evicted int64
	err = m.repo.InTx(ctx, func(tx repository.Repository) error {
		deleted, err := tx.DeleteByHash(ctx, hash)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrSessionInvalid
		}
		n, err := m.evict(ctx, tx, u.ID, now)
		if err != nil {
			return err
		}
		evicted = n
		return tx.Create(ctx, session)
	})
	if errors.Is(err, ErrSessionInvalid) {
		m.emit(telemetrydomain.EventInvalid, old, fp, "already_rotated", 0)
		return nil, nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, nil, fmt.Errorf("rotate session: %w", err)
	}
	pair, err := m.issue(u, newSecret, session)
	if err != nil {
		return nil, nil, err
	}
	m.emitEvict(u.ID, evicted)
	m.emit(telemetrydomain.EventRotate, session, fp, "", 0)
	return pair, u, nil
}

// Revoke deletes the session behind secret. Unknown or blank secrets are a no-op.
func (m *Manager) Revoke(ctx context.Context, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	hash := security.HashRefreshToken(secret)
	sess, err := m.repo.GetByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if sess == nil {
		return nil
	}
	deleted, err := m.repo.DeleteByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if deleted {
		m.emit(telemetrydomain.EventRevoke, sess, domain.Fingerprint{UserAgent: sess.UserAgent, IPAddress: sess.IPAddress}, "", 0)
	}
	return nil
}

// RevokeAll deletes every session of userID and returns how many were removed.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	n, err := m.repo.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	m.emit(telemetrydomain.EventRevokeAll, &domain.RefreshSession{UserID: userID}, domain.Fingerprint{}, "", n)
	return n, nil
}

// ListSessions returns the live sessions of userID, oldest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*domain.RefreshSession, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	sessions, err := m.repo.ListLiveForUser(ctx, userID, m.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// RevokeSession deletes one live session of userID by id. Sessions of other users are
// reported as ErrSessionNotFound.
func (m *Manager) RevokeSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	live, err := m.repo.ListLiveForUser(ctx, userID, m.now())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	var target *domain.RefreshSession
	for _, s := range live {
		if s.ID == sessionID {
			target = s
			break
		}
	}
	if target == nil {
		return ErrSessionNotFound
	}
	deleted, err := m.repo.DeleteByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !deleted {
		return ErrSessionNotFound
	}
	m.emit(telemetrydomain.EventRevoke, target, domain.Fingerprint{}, "", 0)
	return nil
}

// SweepExpired deletes every session with ExpiresAt <= now.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	n, err := m.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info("swept expired refresh sessions", zap.Int64("count", n))
		m.emit(telemetrydomain.EventSweep, nil, domain.Fingerprint{}, "", n)
	}
	return n, nil
}

// evict deletes the oldest live sessions of userID so that one more fits under the cap.
// CountForUser is a cheap precheck; the number to delete comes from the live list.
func (m *Manager) evict(ctx context.Context, tx repository.Repository, userID string, now time.Time) (int64, error) {
	limit := m.cfg.MaxSessionsPerUser
	if err := tx.LockUser(ctx, userID); err != nil {
		return 0, err
	}
	count, err := tx.CountForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if count < int64(limit) {
		return 0, nil
	}
	live, err := tx.ListLiveForUser(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	excess := len(live) - limit + 1
	var removed int64
	for i := 0; i < excess; i++ {
		ok, err := tx.DeleteByID(ctx, live[i].ID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (m *Manager) newSession(userID string, fp domain.Fingerprint, now time.Time) (string, *domain.RefreshSession, error) {
	secret, hash, err := security.NewRefreshSecret()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	return secret, &domain.RefreshSession{
		ID:         uuid.New().String(),
		SecretHash: hash,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.RefreshTTL),
		UserAgent:  fp.UserAgent,
		IPAddress:  fp.IPAddress,
	}, nil
}

func (m *Manager) issue(u *userdomain.User, secret string, s *domain.RefreshSession) (*TokenPair, error) {
	access, exp, err := m.tokens.Issue(security.AccessSubject{
		Subject: u.Subject,
		UserID:  u.ID,
		Email:   u.Email,
		Name:    u.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     secret,
		ExpiresIn:        int64(m.tokens.TTL() / time.Second),
		AccessExpiresAt:  exp,
		RefreshExpiresAt: s.ExpiresAt,
		SessionID:        s.ID,
	}, nil
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.StoreTimeout)
}

func (m *Manager) now() time.Time { return m.cfg.Now().UTC() }

func (m *Manager) emitInvalid(fp domain.Fingerprint, detail string) {
	m.emit(telemetrydomain.EventInvalid, nil, fp, detail, 0)
}

func (m *Manager) emitEvict(userID string, n int64) {
	if n == 0 {
		return
	}
	m.logger.Info("evicted oldest refresh sessions", zap.String("user_id", userID), zap.Int64("count", n))
	m.emit(telemetrydomain.EventEvict, &domain.RefreshSession{UserID: userID}, domain.Fingerprint{}, "", n)
}

func (m *Manager) emit(t telemetrydomain.EventType, s *domain.RefreshSession, fp domain.Fingerprint, detail string, count int64) {
	if m.emitter == nil {
		return
	}
	ev := &telemetrydomain.AuthEvent{
		Type:      t,
		Source:    eventSource,
		IPAddress: fp.IPAddress,
		UserAgent: fp.UserAgent,
		Detail:    detail,
		Count:     count,
		CreatedAt: m.now(),
	}
	if s != nil {
		ev.UserID = s.UserID
		ev.SessionID = s.ID
	}
	telemetry.EmitAsync(m.emitter, ev, m.logger)
}
