// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBQueryTimeout bounds every store call (e.g. "5s").
	DBQueryTimeout string `mapstructure:"DB_QUERY_TIMEOUT"`
	// Env is the application environment ("dev", "production", ...).
	Env string `mapstructure:"APP_ENV"`

	// JWTKeyFile is the path of the JWK file holding the RSA signing key. Created on first start.
	JWTKeyFile string `mapstructure:"JWT_KEY_FILE"`
	// JWTIssuer is the iss claim of access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime as a Go duration (e.g. "24h", "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTokenTTLDays is the refresh session lifetime in days.
	RefreshTokenTTLDays int `mapstructure:"REFRESH_TOKEN_TTL_DAYS"`
	// MaxSessionsPerUser caps concurrent refresh sessions per user; the oldest are evicted.
	MaxSessionsPerUser int `mapstructure:"MAX_SESSIONS_PER_USER"`
	// SessionSweepInterval is how often expired sessions are deleted (e.g. "1h").
	SessionSweepInterval string `mapstructure:"SESSION_SWEEP_INTERVAL"`
	// SessionSweepEnabled runs the sweeper inside the server process. Disable when cmd/worker sweeps.
	SessionSweepEnabled bool `mapstructure:"SESSION_SWEEP_ENABLED"`
	// FingerprintPolicy is "log" or "reject" for refresh requests from a different client.
	FingerprintPolicy string `mapstructure:"FINGERPRINT_POLICY"`

	// CookieSecure sets the Secure flag on the refresh cookie. Must be true in production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// CookieSameSiteMode is Strict, Lax or None.
	CookieSameSiteMode string `mapstructure:"COOKIE_SAME_SITE"`

	// DevLoginEnabled registers POST /auth/dev/login. Refused when Env is production.
	DevLoginEnabled bool `mapstructure:"DEV_LOGIN_ENABLED"`
	// AuthRateLimitPerMinute limits /auth/* requests per client IP; 0 disables the limit.
	AuthRateLimitPerMinute int `mapstructure:"AUTH_RATE_LIMIT_PER_MINUTE"`
	// TrustProxyHeaders keys the rate limit on forwarded client headers. Off unless a proxy
	// in front of the server overwrites X-Forwarded-For.
	TrustProxyHeaders bool `mapstructure:"TRUST_PROXY_HEADERS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// OTLP export (optional). Empty endpoint disables export.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// KafkaBrokers is a comma-separated list of brokers; when set, auth events are published.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsTopic is the Kafka topic for auth events.
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the event forwarder in cmd/worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where cmd/worker pushes auth events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("JWT_KEY_FILE", "jwt-key.json")
	v.SetDefault("JWT_ISSUER", "budget-tracker")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("REFRESH_TOKEN_TTL_DAYS", 30)
	v.SetDefault("MAX_SESSIONS_PER_USER", 5)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1h")
	v.SetDefault("SESSION_SWEEP_ENABLED", true)
	v.SetDefault("FINGERPRINT_POLICY", "log")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_SAME_SITE", "Strict")
	v.SetDefault("DEV_LOGIN_ENABLED", false)
	v.SetDefault("AUTH_RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("TRUST_PROXY_HEADERS", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "budget-tracker-auth")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_KAFKA_TOPIC", "budget-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "budget-auth-events-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if strings.TrimSpace(c.JWTKeyFile) == "" {
		return errors.New("config: JWT_KEY_FILE must be set")
	}
	if c.RefreshTokenTTLDays < 1 {
		return errors.New("config: REFRESH_TOKEN_TTL_DAYS must be at least 1")
	}
	if c.MaxSessionsPerUser < 1 {
		return errors.New("config: MAX_SESSIONS_PER_USER must be at least 1")
	}
	if c.AuthRateLimitPerMinute < 0 {
		return errors.New("config: AUTH_RATE_LIMIT_PER_MINUTE must not be negative")
	}
	switch strings.ToLower(c.FingerprintPolicy) {
	case "log", "reject":
	default:
		return errors.New("config: FINGERPRINT_POLICY must be log or reject")
	}
	switch strings.ToLower(c.CookieSameSiteMode) {
	case "strict", "lax":
	case "none":
		if !c.CookieSecure {
			return errors.New("config: COOKIE_SAME_SITE=None requires COOKIE_SECURE=true")
		}
	default:
		return errors.New("config: COOKIE_SAME_SITE must be Strict, Lax or None")
	}
	if c.IsProduction() {
		if c.DevLoginEnabled {
			return errors.New("config: DEV_LOGIN_ENABLED must not be true when APP_ENV=production")
		}
		if !c.CookieSecure {
			return errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// IsDev reports whether APP_ENV is dev.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Env, "dev")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 24*time.Hour)
}

// RefreshTTL returns the refresh session lifetime. Returns 30 days if unset.
func (c *Config) RefreshTTL() time.Duration {
	if c.RefreshTokenTTLDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

// QueryTimeout parses DBQueryTimeout. Returns 5s if unset or invalid.
func (c *Config) QueryTimeout() time.Duration {
	return parseDuration(c.DBQueryTimeout, 5*time.Second)
}

// SweepInterval parses SessionSweepInterval. Returns 1h if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.SessionSweepInterval, time.Hour)
}

// CookieSameSite maps CookieSameSiteMode to http.SameSite. Defaults to Strict.
func (c *Config) CookieSameSite() http.SameSite {
	switch strings.ToLower(c.CookieSameSiteMode) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means event publishing is disabled.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
