package retrain

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/spendcat/internal/artifact"
	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/corpus"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/evaluate"
	"github.com/hpungsan/spendcat/internal/expense"
)

// InProgressReason is the Details["reason"] of the CONFLICT returned to a concurrent caller.
const InProgressReason = "RETRAIN_IN_PROGRESS"

// Result describes a completed retrain.
type Result struct {
	Version      int              `json:"version"`
	TrainedAt    int64            `json:"trained_at"`
	Source       string           `json:"source"`
	Examples     int              `json:"examples"`
	SeedExamples int              `json:"seed_examples"`
	Corrections  int              `json:"corrections"`
	Categories   []string         `json:"categories"`
	Evaluation   *evaluate.Report `json:"evaluation,omitempty"`
	Pruned       []int            `json:"pruned,omitempty"`
	DurationMs   int64            `json:"duration_ms"`
}

// Trainer runs retrains one at a time.
type Trainer struct {
	db      *sql.DB
	manager *artifact.Manager
	seed    corpus.Source
	cfg     *config.Config
	logger  *zap.Logger

	fit FitFunc
	now func() time.Time

	mu sync.Mutex
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithFitFunc replaces the model fitting step.
func WithFitFunc(f FitFunc) Option {
	return func(t *Trainer) { t.fit = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

// New creates a Trainer reading seed examples from seed and corrections from database.
func New(database *sql.DB, manager *artifact.Manager, seed corpus.Source, cfg *config.Config, logger *zap.Logger, opts ...Option) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trainer{
		db:      database,
		manager: manager,
		seed:    seed,
		cfg:     cfg,
		logger:  logger.Named("retrain"),
		fit:     Fit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Retrain fits a new model on seed examples plus every correction and activates it.
// A second call while one is running gets CONFLICT. Any failure, including
// cancellation, returns RETRAINING_FAILED and leaves the active artifact untouched.
func (t *Trainer) Retrain(ctx context.Context) (*Result, error) {
	if !t.mu.TryLock() {
		err := errors.NewConflict("a retrain is already in progress")
		err.Details = map[string]any{"reason": InProgressReason}
		return nil, err
	}
	defer t.mu.Unlock()

	start := t.now()
	t.logger.Info("retrain started")

	res, err := t.run(ctx, start)
	if err != nil {
		t.logger.Error("retrain failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if errors.Is(err, errors.ErrRetrainingFailed) {
			return nil, err
		}
		return nil, errors.NewRetrainingFailed(err)
	}

	t.logger.Info("retrain finished",
		zap.Int("version", res.Version),
		zap.Int("examples", res.Examples),
		zap.Int("corrections", res.Corrections),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, nil
}

func (t *Trainer) run(ctx context.Context, start time.Time) (*Result, error) {
	corrections, err := db.ListCorrections(ctx, t.db, 0, 0)
	if err != nil {
		return nil, err
	}

	c, err := corpus.Build(ctx, t.seed, corrections)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("corpus built",
		zap.String("source", c.SourceName),
		zap.Int("seed_examples", c.SeedExamples),
		zap.Int("corrections", c.Corrections),
	)

	model, err := t.fit(ctx, c, t.cfg)
	if err != nil {
		return nil, err
	}

	version, err := t.manager.NextVersion(ctx)
	if err != nil {
		return nil, err
	}
	a, err := artifact.New(artifact.Params{
		Version:     version,
		TrainedAt:   t.now(),
		Fallback:    expense.NormalizeCategory(t.cfg.FallbackCategory),
		Extractor:   model.Extractor,
		Classifier:  model.Classifier,
		Corrections: c.Memory,
		Stats: artifact.Stats{
			Examples:     len(c.Examples),
			SeedExamples: c.SeedExamples,
			Corrections:  c.Corrections,
			PerCategory:  c.PerCategory(),
		},
		Evaluation: model.Evaluation,
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rec, err := t.manager.Activate(ctx, a)
	if err != nil {
		return nil, err
	}

	// Activation succeeded; pruning problems are not a failed retrain.
	pruned, err := t.manager.Prune(ctx, t.cfg.ArtifactsKeep)
	if err != nil {
		t.logger.Warn("prune failed", zap.Error(err))
	}

	return &Result{
		Version:      rec.Version,
		TrainedAt:    rec.TrainedAt,
		Source:       c.SourceName,
		Examples:     len(c.Examples),
		SeedExamples: c.SeedExamples,
		Corrections:  c.Corrections,
		Categories:   rec.Categories,
		Evaluation:   model.Evaluation,
		Pruned:       pruned,
		DurationMs:   t.now().Sub(start).Milliseconds(),
	}, nil
}
