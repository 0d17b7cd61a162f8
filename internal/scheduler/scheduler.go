// Package scheduler runs the periodic cleanup job.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers the cleanup function on a cron schedule (UTC).
type Scheduler struct {
	cron        *cron.Cron
	ctx         context.Context
	cancel      context.CancelFunc
	schedule    string
	cleanupFunc func(ctx context.Context) error
	lg          *zap.SugaredLogger
}

func New(schedule string, lg *zap.SugaredLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      ctx,
		cancel:   cancel,
		schedule: schedule,
		lg:       lg,
	}
}

// SetCleanupFunction sets the job executed on each tick.
func (s *Scheduler) SetCleanupFunction(f func(ctx context.Context) error) {
	s.cleanupFunc = f
}

func (s *Scheduler) Start() error {
	if s.cleanupFunc == nil {
		s.lg.Warn("cleanup function not set, scheduler will not run")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.lg.Infof("triggered scheduled cleanup (%s UTC)", s.schedule)
		if err := s.cleanupFunc(s.ctx); err != nil {
			s.lg.Errorf("scheduled cleanup failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.lg.Infof("scheduler started, cleanup runs on %q UTC", s.schedule)
	return nil
}

// Stop waits for a running job to finish before returning.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.lg.Info("scheduler stopped")
}

// IsRunning reports whether any job is registered.
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
