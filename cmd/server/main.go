// Server is the HTTP auth backend: token issuance, refresh rotation and the authentication gate.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"budget-tracker/backend/internal/audit"
	auditrepo "budget-tracker/backend/internal/audit/repository"
	"budget-tracker/backend/internal/config"
	"budget-tracker/backend/internal/db"
	identityhandler "budget-tracker/backend/internal/identity/handler"
	identityservice "budget-tracker/backend/internal/identity/service"
	"budget-tracker/backend/internal/logging"
	"budget-tracker/backend/internal/security"
	"budget-tracker/backend/internal/server"
	sessionrepo "budget-tracker/backend/internal/session/repository"
	sessionservice "budget-tracker/backend/internal/session/service"
	"budget-tracker/backend/internal/telemetry"
	oteltelemetry "budget-tracker/backend/internal/telemetry/otel"
	"budget-tracker/backend/internal/telemetry/producer"
	userrepo "budget-tracker/backend/internal/user/repository"
	userservice "budget-tracker/backend/internal/user/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTelServiceName,
		Env:     cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys := security.NewKeyProvider(cfg.JWTKeyFile)
	signingKey, err := keys.LoadOrGenerate()
	if err != nil {
		logger.Error("signing key unavailable", zap.String("path", keys.Path()), zap.Error(err))
		return err
	}
	if keys.Generated() {
		logger.Info("generated new signing key", zap.String("kid", signingKey.ID), zap.String("path", keys.Path()))
	} else {
		logger.Info("loaded signing key", zap.String("kid", signingKey.ID), zap.String("path", keys.Path()))
	}

	providers, err := oteltelemetry.NewProviders(ctx, oteltelemetry.Options{
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer conn.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewPrometheusEmitter(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	emitters := []telemetry.EventEmitter{
		metrics,
		oteltelemetry.NewEventEmitter(providers.LoggerProvider),
		audit.NewLogger(auditrepo.NewPostgresRepository(conn)),
	}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsTopic); kp != nil {
		defer kp.Close()
		emitters = append(emitters, kp)
		logger.Info("publishing auth events to kafka", zap.String("topic", cfg.AuthEventsTopic))
	}
	events := telemetry.Fanout(emitters...)

	policy, err := sessionservice.ParseFingerprintPolicy(cfg.FingerprintPolicy)
	if err != nil {
		return err
	}
	users := userservice.NewDirectory(userrepo.NewPostgresRepository(conn), nil)
	tokens := security.NewTokenProvider(signingKey, cfg.JWTIssuer, cfg.AccessTTL())
	sessions := sessionservice.NewManager(sessionrepo.NewPostgresRepository(conn), users, tokens, events, logger, sessionservice.Config{
		RefreshTTL:         cfg.RefreshTTL(),
		MaxSessionsPerUser: cfg.MaxSessionsPerUser,
		FingerprintPolicy:  policy,
		StoreTimeout:       cfg.QueryTimeout(),
	})
	if cfg.SessionSweepEnabled {
		go sessionservice.NewSweeper(sessions, cfg.SweepInterval(), logger).Run(ctx)
	}

	if cfg.DevLoginEnabled {
		logger.Warn("dev login endpoint enabled", zap.String("route", "/auth/dev/login"))
	}
	handler := server.NewRouter(server.Deps{
		Verifier: tokens,
		Auth:     identityservice.NewAuthService(users, sessions),
		AuthOptions: identityhandler.Options{
			CookieSecure:   cfg.CookieSecure,
			CookieSameSite: cfg.CookieSameSite(),
			CookieMaxAge:   cfg.RefreshTTL(),
			DevEnv:         cfg.IsDev(),
		},
		Sessions:               sessions,
		Users:                  users,
		Keys:                   keys,
		HealthPinger:           conn,
		Metrics:                promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		DevLogin:               cfg.DevLoginEnabled && !cfg.IsProduction(),
		AuthRateLimitPerMinute: cfg.AuthRateLimitPerMinute,
		TrustProxyHeaders:      cfg.TrustProxyHeaders,
		ServiceName:            cfg.OTelServiceName,
		Logger:                 logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// In-flight async emits need their timeout before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
