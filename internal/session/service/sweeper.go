package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"budget-tracker/backend/internal/logging"
)

// DefaultSweepInterval is used when the sweeper is built with a non-positive interval.
const DefaultSweepInterval = time.Hour

// Sweeper periodically removes expired refresh sessions.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper returns a Sweeper that calls m.SweepExpired every interval.
func NewSweeper(m *Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{manager: m, interval: interval, logger: logging.OrNop(logger)}
}

// Run sweeps once immediately and then on every tick until ctx is done. Store errors are logged
// and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("session sweeper started", zap.Duration("interval", s.interval))
	s.SweepOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns the number of removed sessions.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.manager.SweepExpired(ctx, s.manager.now())
	if err != nil {
		s.logger.Error("session sweep failed", zap.Error(err))
		return 0
	}
	return n
}
