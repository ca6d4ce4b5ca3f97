package autoreset

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the configured sweep periodically.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(service *Service, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{service: service, interval: interval, logger: logger}
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("AutoReset scheduler started", zap.Duration("interval", s.interval))
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("AutoReset scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.service.SweepConfigured(ctx); err != nil {
		s.logger.Error("Scheduled AutoReset sweep failed", zap.Error(err))
	}
}
