package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/spendcat/internal/artifact"
	"github.com/hpungsan/spendcat/internal/classifier"
	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/corpus"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/pipeline"
	"github.com/hpungsan/spendcat/internal/retrain"
)

// Engine wires the classifier components behind the external calls:
// Predict, RecordCorrection, Retrain and LoadActive/Rollback.
type Engine struct {
	db      *sql.DB
	cfg     *config.Config
	policy  pipeline.Policy
	seed    corpus.Source
	manager *artifact.Manager
	trainer *retrain.Trainer
	logger  *zap.Logger
}

// Options customizes New.
type Options struct {
	// Seed overrides the default seed chain (examples table, seed_path, embedded default).
	Seed corpus.Source

	// TrainerOptions are passed to retrain.New.
	TrainerOptions []retrain.Option
}

// Status summarizes the engine state.
type Status struct {
	Model              *artifact.Info `json:"model,omitempty"`
	StoredExamples     int            `json:"stored_examples"`
	Corrections        int            `json:"corrections"`
	PendingCorrections int            `json:"pending_corrections"`
	SeedSource         string         `json:"seed_source"`
	Threshold          float64        `json:"confidence_threshold"`
	Fallback           string         `json:"fallback_category"`
}

// New builds an engine over an initialized database. baseDir holds the artifact files.
// No model is loaded until LoadActive or the first prediction.
func New(database *sql.DB, baseDir string, cfg *config.Config, logger *zap.Logger, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := opts.Seed
	if seed == nil {
		chain, err := corpus.Seed(database, cfg.SeedPath)
		if err != nil {
			return nil, err
		}
		seed = chain
	}

	manager := artifact.NewManager(database, baseDir, logger)
	return &Engine{
		db:      database,
		cfg:     cfg,
		policy:  pipeline.PolicyFromConfig(cfg),
		seed:    seed,
		manager: manager,
		trainer: retrain.New(database, manager, seed, cfg, logger, opts.TrainerOptions...),
		logger:  logger,
	}, nil
}

// Policy returns the prediction policy.
func (e *Engine) Policy() pipeline.Policy {
	return e.policy
}

// LoadActive loads the active artifact from disk, rolling back once on corruption.
func (e *Engine) LoadActive(ctx context.Context) (*artifact.Artifact, error) {
	return e.manager.LoadActive(ctx)
}

// Active returns the in-memory artifact, loading it on first use.
func (e *Engine) Active(ctx context.Context) (*artifact.Artifact, error) {
	if a := e.manager.Current(); a != nil {
		return a, nil
	}
	return e.manager.LoadActive(ctx)
}

// Predict classifies one description.
func (e *Engine) Predict(ctx context.Context, text string) (*expense.PredictionResult, error) {
	if expense.IsBlank(text) {
		return nil, errors.NewEmptyInput()
	}
	a, err := e.Active(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.Predict(a, e.policy, text)
}

// PredictBatch classifies many descriptions against one artifact snapshot.
func (e *Engine) PredictBatch(ctx context.Context, texts []string) ([]*expense.PredictionResult, error) {
	a, err := e.Active(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.PredictBatch(ctx, a, e.policy, texts)
}

// RecordCorrection appends a user correction. It does not retrain.
func (e *Engine) RecordCorrection(ctx context.Context, text, category string) (*expense.Correction, error) {
	if expense.IsBlank(text) {
		return nil, errors.NewInvalidRequest("text is required")
	}
	category = expense.NormalizeCategory(category)
	if category == "" {
		return nil, errors.NewInvalidRequest("category is required")
	}

	c := &expense.Correction{
		ID:              ulid.Make().String(),
		Text:            text,
		CorrectCategory: category,
		CreatedAt:       time.Now().Unix(),
	}
	if err := db.InsertCorrection(ctx, e.db, c); err != nil {
		return nil, err
	}
	e.logger.Debug("correction recorded", zap.String("id", c.ID), zap.String("category", category))
	return c, nil
}

// Corrections lists corrections in insertion order along with the total count.
func (e *Engine) Corrections(ctx context.Context, limit, offset int) ([]expense.Correction, int, error) {
	items, err := db.ListCorrections(ctx, e.db, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := db.CountCorrections(ctx, e.db)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Retrain fits and activates a new model from seed examples plus corrections.
func (e *Engine) Retrain(ctx context.Context) (*retrain.Result, error) {
	return e.trainer.Retrain(ctx)
}

// Rollback activates the previous model version.
func (e *Engine) Rollback(ctx context.Context) (*artifact.Artifact, error) {
	return e.manager.Rollback(ctx)
}

// Versions lists model versions newest first.
func (e *Engine) Versions(ctx context.Context) ([]db.ArtifactRecord, error) {
	return e.manager.List(ctx)
}

// Discard removes an inactive model version.
func (e *Engine) Discard(ctx context.Context, version int) error {
	return e.manager.Discard(ctx, version)
}

// Explain returns the strongest features for category in the active model.
func (e *Engine) Explain(ctx context.Context, category string, k int) ([]classifier.Signal, error) {
	a, err := e.Active(ctx)
	if err != nil {
		return nil, err
	}
	if !a.HasCategory(category) {
		return nil, errors.NewNotFound(fmt.Sprintf("category %q", expense.NormalizeCategory(category)))
	}
	return a.Explain(category, k)
}

// Status reports the active model and correction backlog.
// A missing model is not an error here.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	s := &Status{
		SeedSource: e.seed.Name(),
		Threshold:  e.policy.Threshold,
		Fallback:   e.policy.Fallback,
	}

	var err error
	if s.StoredExamples, err = db.CountExamples(ctx, e.db); err != nil {
		return nil, err
	}
	if s.Corrections, err = db.CountCorrections(ctx, e.db); err != nil {
		return nil, err
	}

	a, err := e.Active(ctx)
	switch {
	case err == nil:
		info := a.Info()
		s.Model = &info
		s.PendingCorrections = max(s.Corrections-info.Stats.Corrections, 0)
	case errors.Is(err, errors.ErrNoModel):
		s.PendingCorrections = s.Corrections
	default:
		return nil, err
	}
	return s, nil
}
