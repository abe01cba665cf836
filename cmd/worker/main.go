// Worker sweeps expired refresh sessions and, when KAFKA_BROKERS and LOKI_URL are set, forwards
// auth events from Kafka to Loki. Run it when SESSION_SWEEP_ENABLED=false on the servers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"budget-tracker/backend/internal/config"
	"budget-tracker/backend/internal/db"
	"budget-tracker/backend/internal/logging"
	sessionrepo "budget-tracker/backend/internal/session/repository"
	sessionservice "budget-tracker/backend/internal/session/service"
	"budget-tracker/backend/internal/telemetry"
	"budget-tracker/backend/internal/telemetry/loki"
	"budget-tracker/backend/internal/telemetry/producer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "budget-auth-worker", Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer conn.Close()

	var events telemetry.EventEmitter
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsTopic); kp != nil {
		defer kp.Close()
		events = kp
	}
	manager := sessionservice.NewManager(sessionrepo.NewPostgresRepository(conn), nil, nil, events, logger, sessionservice.Config{
		StoreTimeout: cfg.QueryTimeout(),
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessionservice.NewSweeper(manager, cfg.SweepInterval(), logger).Run(ctx)
	}()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		client, err := loki.NewClient(cfg.LokiURL, nil)
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("loki: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			forwardEvents(ctx, cfg, brokers, client, logger)
		}()
	} else {
		logger.Info("event forwarding disabled; set KAFKA_BROKERS and LOKI_URL to enable")
	}

	wg.Wait()
	logger.Info("worker stopped")
	return nil
}

// forwardEvents consumes auth events from Kafka and pushes each one to Loki until ctx is done.
func forwardEvents(ctx context.Context, cfg *config.Config, brokers []string, client *loki.Client, logger *zap.Logger) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.AuthEventsTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	logger.Info("forwarding auth events",
		zap.String("topic", cfg.AuthEventsTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki", cfg.LokiURL),
	)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read failed", zap.Error(err))
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn("loki push failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		pushCancel()
	}
}
