package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"RegScanner/internal/ports"
)

// Scheduler wires the cron-like driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger.With("component", "scheduler")}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		s.trigger(ctx, trigger)
	})
}

func (s *Scheduler) trigger(ctx context.Context, at time.Time) {
	report, err := s.pipeline.Run(ctx, RunOptions{})
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("scheduled run skipped, previous run still active", "trigger", at)
	case err != nil:
		s.logger.Error("scheduled run failed", "trigger", at, "run_id", report.RunID, "error", err)
	default:
		s.logger.Info("scheduled run finished", "trigger", at, "run_id", report.RunID,
			"ingested", report.Ingested, "analyzed", report.Analyzed)
	}
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
