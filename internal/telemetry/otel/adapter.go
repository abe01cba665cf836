package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"budget-tracker/backend/internal/telemetry"
	"budget-tracker/backend/internal/telemetry/domain"
)

const instrumentationName = "budget-tracker.auth"

// recordEmitter is the part of otellog.Logger the adapter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger wraps an existing logger. Used by tests to capture records.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.AuthEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.AuthEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(severityFor(event.Type))
	rec.SetBody(otellog.StringValue("auth." + string(event.Type)))
	rec.AddAttributes(otellog.String("event_type", string(event.Type)))
	addIfSet(&rec, "source", event.Source)
	addIfSet(&rec, "user_id", event.UserID)
	addIfSet(&rec, "session_id", event.SessionID)
	addIfSet(&rec, "ip_address", event.IPAddress)
	addIfSet(&rec, "user_agent", event.UserAgent)
	addIfSet(&rec, "detail", event.Detail)
	if event.Count > 0 {
		rec.AddAttributes(otellog.Int64("count", event.Count))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func addIfSet(rec *otellog.Record, key, value string) {
	if value != "" {
		rec.AddAttributes(otellog.String(key, value))
	}
}

func severityFor(t domain.EventType) otellog.Severity {
	switch t {
	case domain.EventAnomaly:
		return otellog.SeverityWarn
	case domain.EventInvalid:
		return otellog.SeverityInfo2
	default:
		return otellog.SeverityInfo
	}
}
