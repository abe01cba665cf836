package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		realIP string
		remote string
		want   string
	}{
		{"forwarded chain", "203.0.113.7, 10.0.0.1", "198.51.100.1", "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", "", "198.51.100.1", "10.0.0.2:1234", "198.51.100.1"},
		{"remote addr", "", "", "10.0.0.2:1234", "10.0.0.2"},
		{"remote without port", "", "", "10.0.0.2", "10.0.0.2"},
		{"blank forwarded entry", " , 10.0.0.1", "198.51.100.1", "10.0.0.2:1", "198.51.100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
