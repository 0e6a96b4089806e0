package compliance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule runs expiry nightly at 03:00, off the
// interactive traffic peak.
const DefaultRetentionSchedule = "0 3 * * *"

// Scheduler runs the retention expiry on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	enforcer *Enforcer
	logger   *slog.Logger
}

// NewScheduler registers the retention job. An empty spec falls back to
// the nightly default. The schedule does not run until Start.
func NewScheduler(enforcer *Enforcer, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultRetentionSchedule
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		enforcer: enforcer,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(spec, s.runExpiry); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins executing the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runExpiry() {
	deleted, err := s.enforcer.ExpireOlderThan(context.Background(), s.enforcer.cfg.RetentionDays)
	if err != nil {
		s.logger.Error("scheduled retention expiry failed", "error", err)
		return
	}
	s.logger.Info("scheduled retention expiry finished", "deleted", deleted)
}
