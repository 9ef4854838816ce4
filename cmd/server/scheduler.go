package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/pipeline"
)

// runner is the part of the pipeline the scheduler drives
type runner interface {
	Run(ctx context.Context, date time.Time) (*pipeline.Report, error)
}

// scheduler runs the pipeline once a day at a fixed UTC time
type scheduler struct {
	hour   int
	minute int
	runner runner
	now    func() time.Time
}

func newScheduler(runAt string, r runner) (*scheduler, error) {
	hour, minute, err := parseRunAt(runAt)
	if err != nil {
		return nil, err
	}
	return &scheduler{hour: hour, minute: minute, runner: r, now: time.Now}, nil
}

// parseRunAt parses an "HH:MM" time of day
func parseRunAt(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// next returns the first run time strictly after now
func (s *scheduler) next(now time.Time) time.Time {
	now = now.UTC()
	at := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// Run blocks until ctx is cancelled
func (s *scheduler) Run(ctx context.Context, runNow bool) {
	if runNow {
		s.runOnce(ctx)
	}

	for {
		now := s.now()
		at := s.next(now)
		logrus.WithField("next_run", at.Format(time.RFC3339)).Info("Pipeline run scheduled")

		timer := time.NewTimer(at.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *scheduler) runOnce(ctx context.Context) {
	_, err := s.runner.Run(ctx, s.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrRunning):
		logrus.Warn("Skipping scheduled run, previous run still in progress")
	default:
		logrus.WithError(err).Error("Scheduled pipeline run failed")
	}
}
