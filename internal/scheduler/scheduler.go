package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the daily activity report on a cron schedule in UTC.
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	log        *zap.Logger
	reportFunc func(ctx context.Context) error
}

func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start registers the report under the standard five-field cron spec and
// starts the scheduler. Without a report function it does nothing.
func (s *Scheduler) Start(spec string) error {
	if s.reportFunc == nil {
		s.log.Warn("scheduler_no_report_function")
		return nil
	}
	if spec == "" {
		return errors.New("empty report schedule")
	}

	_, err := s.cron.AddFunc(spec, s.runReport)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("scheduler_started", zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) runReport() {
	s.log.Info("report_triggered")
	if err := s.reportFunc(s.ctx); err != nil {
		s.log.Error("report_failed", zap.Error(err))
	}
}

// Stop waits for a running report to finish and cancels its context.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("scheduler_stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
