package domain

import (
	"testing"
	"time"
)

func TestRefreshSession_IsLive(t *testing.T) {
	exp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &RefreshSession{ExpiresAt: exp}
	if !s.IsLive(exp.Add(-time.Nanosecond)) {
		t.Error("session should be live before expiry")
	}
	if s.IsLive(exp) {
		t.Error("session must not be live at expiry")
	}
}

func TestFingerprint_Matches(t *testing.T) {
	s := &RefreshSession{UserAgent: "ua", IPAddress: "1.2.3.4"}
	tests := []struct {
		name string
		fp   Fingerprint
		want bool
	}{
		{"same", Fingerprint{UserAgent: "ua", IPAddress: "1.2.3.4"}, true},
		{"other ip", Fingerprint{UserAgent: "ua", IPAddress: "5.6.7.8"}, false},
		{"other agent", Fingerprint{UserAgent: "other", IPAddress: "1.2.3.4"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fp.Matches(s); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
	if !(Fingerprint{UserAgent: "x", IPAddress: "y"}).Matches(&RefreshSession{}) {
		t.Error("empty stored fingerprint should match anything")
	}
}
