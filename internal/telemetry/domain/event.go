package domain

import "time"

// EventType names a refresh-session lifecycle transition.
type EventType string

const (
	EventLogin     EventType = "login"
	EventRotate    EventType = "rotate"
	EventRevoke    EventType = "revoke"
	EventRevokeAll EventType = "revoke_all"
	EventEvict     EventType = "evict"
	EventSweep     EventType = "sweep"
	EventAnomaly   EventType = "anomaly"
	EventInvalid   EventType = "invalid"
)

// AuthEvent is one auth lifecycle event. It is published as JSON to Kafka and as an OTel log record.
type AuthEvent struct {
	Type      EventType `json:"eventType"`
	Source    string    `json:"source"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	// Detail is a short machine-readable reason (e.g. "expired", "fingerprint_mismatch").
	Detail string `json:"detail,omitempty"`
	// Count is set for bulk transitions (sweep, revoke_all, evict).
	Count     int64     `json:"count,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
