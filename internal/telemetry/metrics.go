package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"budget-tracker/backend/internal/telemetry/domain"
)

// PrometheusEmitter counts auth events by type. Bulk events add their Count instead of 1.
type PrometheusEmitter struct {
	events   *prometheus.CounterVec
	sessions *prometheus.CounterVec
}

// NewPrometheusEmitter registers the auth counters on reg. reg may be nil; then the default registerer is used.
func NewPrometheusEmitter(reg prometheus.Registerer) (*PrometheusEmitter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusEmitter{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "budget_auth",
			Name:      "events_total",
			Help:      "Refresh session lifecycle events by type.",
		}, []string{"type"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "budget_auth",
			Name:      "sessions_removed_total",
			Help:      "Refresh sessions removed by bulk operations, by reason.",
		}, []string{"reason"}),
	}
	if err := reg.Register(p.events); err != nil {
		return nil, err
	}
	if err := reg.Register(p.sessions); err != nil {
		return nil, err
	}
	return p, nil
}

// Emit increments the counters for event. It never fails.
func (p *PrometheusEmitter) Emit(_ context.Context, event *domain.AuthEvent) error {
	if p == nil || event == nil {
		return nil
	}
	p.events.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case domain.EventSweep, domain.EventRevokeAll, domain.EventEvict:
		if event.Count > 0 {
			p.sessions.WithLabelValues(string(event.Type)).Add(float64(event.Count))
		}
	}
	return nil
}
