package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codeminion/overlord/pkg/log"
)

// maxSlice bounds each sleep so shutdown is never more than a minute away.
const maxSlice = time.Minute

// Sweeper is the scheduled work. The orchestrator implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
	Paused() bool
}

// Scheduler fires a queue sweep on a standard five-field cron expression.
type Scheduler struct {
	schedule cron.Schedule
	spec     string
	sweeper  Sweeper
}

func New(spec string, sweeper Sweeper) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	return &Scheduler{schedule: sched, spec: spec, sweeper: sweeper}, nil
}

// Next returns the fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run fires sweeps until the context is cancelled. Sleeping happens in
// bounded slices so cancellation is picked up promptly.
func (s *Scheduler) Run(ctx context.Context) {
	logger := log.WithComponent("cron")
	logger.Info().Str("schedule", s.spec).Msg("Cron scheduler started")

	for {
		next := s.schedule.Next(time.Now())
		logger.Debug().Time("next_fire", next).Msg("Sleeping until next fire")
		if !s.sleepUntil(ctx, next) {
			logger.Info().Msg("Cron scheduler stopped")
			return
		}
		s.fire(ctx)
	}
}

func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) bool {
	for {
		remaining := time.Until(t)
		if remaining <= 0 {
			return true
		}
		if remaining > maxSlice {
			remaining = maxSlice
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	logger := log.WithComponent("cron")
	if s.sweeper.Paused() {
		logger.Info().Msg("Dispatch paused, skipping scheduled sweep")
		return
	}
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Scheduled sweep failed")
		return
	}
	logger.Info().Int("dispatched", n).Msg("Scheduled sweep finished")
}
