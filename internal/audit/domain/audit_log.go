package domain

import "time"

// AuditLog is one persisted auth lifecycle event. Rows outlive the users and sessions they mention.
type AuditLog struct {
	ID        string
	UserID    string
	SessionID string
	Action    string
	Source    string
	IP        string
	UserAgent string
	Detail    string
	Count     int64
	CreatedAt time.Time
}
