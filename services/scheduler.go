package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper runs the periodic safety net behind the lazy deadline checks:
// check-in expiry, result-window timeouts and dispute-window timeouts. Each
// sweep is best-effort; a failing pass is logged and retried next interval.
type Sweeper struct {
	matches   MatchService
	results   ResultService
	disputes  DisputeService
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

func NewSweeper(matches MatchService, results ResultService, disputes DisputeService, logger *slog.Logger) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Sweeper{
		matches:   matches,
		results:   results,
		disputes:  disputes,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// Start registers the sweep job and launches the scheduler. The interval
// comes from configuration; deadlines are still enforced lazily on access,
// so the sweep only bounds how long an abandoned match can sit unresolved.
func (s *Sweeper) Start(interval time.Duration) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}
	s.scheduler.Start()
	s.logger.Info("deadline sweeper started", slog.Duration("interval", interval))
	return nil
}

func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	now := time.Now()

	checkIns, err := s.matches.ExpireCheckIns(ctx, now)
	if err != nil {
		s.logger.Error("check-in sweep failed", slog.Any("error", err))
	}
	results, err := s.results.ResolveResultTimeouts(ctx, now)
	if err != nil {
		s.logger.Error("result window sweep failed", slog.Any("error", err))
	}
	disputes, err := s.disputes.ExpireWindows(ctx, now)
	if err != nil {
		s.logger.Error("dispute window sweep failed", slog.Any("error", err))
	}
	redriven, err := s.results.CompleteResolved(ctx)
	if err != nil {
		s.logger.Error("resolved match sweep failed", slog.Any("error", err))
	}
	if checkIns+results+disputes+redriven > 0 {
		s.logger.Info("deadline sweep settled matches",
			slog.Int("check_ins", checkIns),
			slog.Int("results", results),
			slog.Int("disputes", disputes),
			slog.Int("redriven", redriven))
	}
}
