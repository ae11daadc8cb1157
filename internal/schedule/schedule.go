// Package schedule runs retrains on a cron expression. It is only started by the
// MCP server mode when retrain_schedule is configured.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/retrain"
)

// Retrainer is the engine surface the scheduler drives.
type Retrainer interface {
	Retrain(ctx context.Context) (*retrain.Result, error)
}

// Parse parses a standard 5-field cron expression (minute hour day-of-month month day-of-week).
// Examples: "0 3 * * *" (daily 3am), "0 3 * * 1" (Mondays 3am).
func Parse(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid retrain_schedule %q: %v", expr, err))
	}
	return sched, nil
}

// Scheduler triggers Retrain at each cron activation.
type Scheduler struct {
	expr   string
	sched  cron.Schedule
	r      Retrainer
	logger *zap.Logger
	now    func() time.Time
}

// New validates expr and returns a scheduler for r.
func New(expr string, r Retrainer, logger *zap.Logger) (*Scheduler, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		expr:   strings.TrimSpace(expr),
		sched:  sched,
		r:      r,
		logger: logger.Named("schedule"),
		now:    time.Now,
	}, nil
}

// Next returns the next activation after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.sched.Next(from)
}

// Run blocks until ctx is done, retraining at each activation.
// Activations are never queued: a slow retrain delays the next wait.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduled retrain enabled", zap.String("cron", s.expr))

	for {
		now := s.now()
		next := s.sched.Next(now)
		wait := next.Sub(now)
		s.logger.Debug("next scheduled retrain", zap.Time("at", next), zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.tick(ctx)
	}
}

// tick runs one retrain. Failures are logged; the previous model stays active.
func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.r.Retrain(ctx)
	switch {
	case err == nil:
		s.logger.Info("scheduled retrain complete",
			zap.Int("version", res.Version),
			zap.Int("examples", res.Examples),
		)
	case errors.Is(err, errors.ErrConflict):
		s.logger.Info("scheduled retrain skipped, another retrain is running")
	default:
		s.logger.Error("scheduled retrain failed", zap.Error(err))
	}
}
