package service

import (
	"context"
	"log/slog"
	"time"
)

// CleanupSweeper periodically archives stale completed goals for all users.
type CleanupSweeper struct {
	goals    *GoalService
	interval time.Duration
}

func NewCleanupSweeper(goals *GoalService, interval time.Duration) *CleanupSweeper {
	return &CleanupSweeper{
		goals:    goals,
		interval: interval,
	}
}

// Run sweeps once per interval until ctx is cancelled. A non-positive
// interval disables the sweeper.
func (s *CleanupSweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("goal cleanup sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("goal cleanup sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *CleanupSweeper) sweep(ctx context.Context) {
	start := time.Now()
	count, err := s.goals.SweepCompletedGoals(ctx)
	if err != nil {
		slog.Error("goal cleanup sweep failed", "error", err, "archived", count)
		return
	}
	slog.Info("goal cleanup sweep finished", "archived", count, "duration_ms", time.Since(start).Milliseconds())
}
