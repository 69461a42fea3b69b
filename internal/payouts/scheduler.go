package payouts

import (
	"context"
	"log/slog"
	"time"
)

const defaultSchedulerInterval = time.Hour

// Scheduler runs automatic dispersion. It polls the stored policy and
// triggers a batch run once NextDispersalAt passes, so restarts never lose
// a scheduled run.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler that checks the policy every interval
func NewScheduler(service *Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("dispersion scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dispersion scheduler stopped")
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	cfg, err := s.service.GetDispersionConfig(ctx)
	if err != nil {
		s.logger.Error("scheduler failed to load dispersion config", "error", err)
		return
	}

	if !cfg.DispersalDue(now) {
		return
	}

	s.logger.Info("automatic dispersion due, starting batch run")
	report, err := s.service.DisperseAll(ctx)
	if err != nil {
		s.logger.Error("automatic dispersion failed", "error", err)
		return
	}

	s.logger.Info("automatic dispersion finished",
		"successful", report.Successful,
		"failed", report.Failed,
	)
}
