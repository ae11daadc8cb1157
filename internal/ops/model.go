package ops

import (
	"context"

	"github.com/hpungsan/spendcat/internal/artifact"
	"github.com/hpungsan/spendcat/internal/classifier"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/retrain"
)

// Retrain fits a new model from the seed corpus plus all corrections and activates it.
func Retrain(ctx context.Context, eng *engine.Engine) (*retrain.Result, error) {
	return eng.Retrain(ctx)
}

// Status reports the active model and correction backlog.
func Status(ctx context.Context, eng *engine.Engine) (*engine.Status, error) {
	return eng.Status(ctx)
}

// VersionSummary is one row of the versions listing.
type VersionSummary struct {
	Version     int      `json:"version"`
	TrainedAt   int64    `json:"trained_at"`
	Active      bool     `json:"active"`
	Examples    int      `json:"examples"`
	Corrections int      `json:"corrections"`
	Categories  []string `json:"categories"`
	SizeBytes   int64    `json:"size_bytes"`
}

// VersionsOutput lists model versions newest first.
type VersionsOutput struct {
	Items []VersionSummary `json:"items"`
}

// Versions lists retained model versions.
func Versions(ctx context.Context, eng *engine.Engine) (*VersionsOutput, error) {
	records, err := eng.Versions(ctx)
	if err != nil {
		return nil, err
	}
	output := &VersionsOutput{Items: make([]VersionSummary, 0, len(records))}
	for _, rec := range records {
		output.Items = append(output.Items, summarize(rec))
	}
	return output, nil
}

func summarize(rec db.ArtifactRecord) VersionSummary {
	return VersionSummary{
		Version:     rec.Version,
		TrainedAt:   rec.TrainedAt,
		Active:      rec.Active,
		Examples:    rec.Examples,
		Corrections: rec.Corrections,
		Categories:  rec.Categories,
		SizeBytes:   rec.SizeBytes,
	}
}

// RollbackOutput describes the model that is active after a rollback.
type RollbackOutput struct {
	Model artifact.Info `json:"model"`
}

// Rollback reactivates the previous model version.
func Rollback(ctx context.Context, eng *engine.Engine) (*RollbackOutput, error) {
	a, err := eng.Rollback(ctx)
	if err != nil {
		return nil, err
	}
	return &RollbackOutput{Model: a.Info()}, nil
}

// DiscardInput contains parameters for the Discard operation.
type DiscardInput struct {
	Version int
}

// DiscardOutput confirms a discarded version.
type DiscardOutput struct {
	Version   int  `json:"version"`
	Discarded bool `json:"discarded"`
}

// Discard removes an inactive model version and its payload file.
func Discard(ctx context.Context, eng *engine.Engine, input DiscardInput) (*DiscardOutput, error) {
	if input.Version <= 0 {
		return nil, errors.NewInvalidRequest("version must be a positive integer")
	}
	if err := eng.Discard(ctx, input.Version); err != nil {
		return nil, err
	}
	return &DiscardOutput{Version: input.Version, Discarded: true}, nil
}

// ExplainInput contains parameters for the Explain operation.
type ExplainInput struct {
	Category string
	Top      int // default: 10, max: 100
}

// ExplainOutput lists the features that push hardest toward a category.
type ExplainOutput struct {
	Category string              `json:"category"`
	Version  int                 `json:"version"`
	Signals  []classifier.Signal `json:"signals"`
}

// Explain returns the strongest positive features of a category in the active model.
func Explain(ctx context.Context, eng *engine.Engine, input ExplainInput) (*ExplainOutput, error) {
	category := expense.NormalizeCategory(input.Category)
	if category == "" {
		return nil, errors.NewInvalidRequest("category is required")
	}
	top := input.Top
	if top <= 0 {
		top = DefaultExplainTop
	}
	if top > MaxExplainTop {
		top = MaxExplainTop
	}

	a, err := eng.Active(ctx)
	if err != nil {
		return nil, err
	}
	signals, err := eng.Explain(ctx, category, top)
	if err != nil {
		return nil, err
	}
	if signals == nil {
		signals = []classifier.Signal{}
	}
	return &ExplainOutput{Category: category, Version: a.Version(), Signals: signals}, nil
}
