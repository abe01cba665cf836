package domain

import "time"

// RefreshSession is one server-side refresh session. Only the hash of the refresh secret is stored.
type RefreshSession struct {
	ID         string
	SecretHash string // SHA-256 hex of the refresh secret; unique
	UserID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time // nil until the first rotation attempt
	UserAgent  string
	IPAddress  string
}

// IsLive reports whether the session is still usable at now.
func (s *RefreshSession) IsLive(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Fingerprint identifies the client presenting a refresh secret.
type Fingerprint struct {
	UserAgent string
	IPAddress string
}

// Matches reports whether f was presented by the same client that created s.
// Empty stored values are not compared.
func (f Fingerprint) Matches(s *RefreshSession) bool {
	if s.UserAgent != "" && s.UserAgent != f.UserAgent {
		return false
	}
	if s.IPAddress != "" && s.IPAddress != f.IPAddress {
		return false
	}
	return true
}
