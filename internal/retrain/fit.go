package retrain

import (
	"context"

	"github.com/hpungsan/spendcat/internal/classifier"
	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/corpus"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/evaluate"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/features"
)

// minHoldoutExamples is the smallest corpus that gets a holdout evaluation.
const minHoldoutExamples = 10

// Model is a fitted extractor and classifier, plus an optional holdout report.
type Model struct {
	Extractor  *features.Extractor
	Classifier *classifier.Model
	Evaluation *evaluate.Report
}

// FitFunc fits a model on a corpus.
type FitFunc func(ctx context.Context, c *corpus.Corpus, cfg *config.Config) (*Model, error)

// Fit evaluates on a stratified holdout (when the corpus is large enough) and then
// fits the shipped model on the full corpus.
func Fit(ctx context.Context, c *corpus.Corpus, cfg *config.Config) (*Model, error) {
	var report *evaluate.Report
	if cfg.Training.HoldoutFraction > 0 && len(c.Examples) >= minHoldoutExamples {
		train, test := evaluate.StratifiedSplit(c.Examples, cfg.Training.HoldoutFraction, cfg.Training.Seed)
		if len(test) > 0 {
			r, err := holdout(ctx, train, test, cfg)
			switch {
			case err == nil:
				report = r
			case errors.Is(err, errors.ErrInsufficientData):
				// Train split too small to fit; ship without a report.
			default:
				return nil, err
			}
		}
	}

	ext, clf, err := fitCorpus(ctx, c, cfg)
	if err != nil {
		return nil, err
	}
	return &Model{Extractor: ext, Classifier: clf, Evaluation: report}, nil
}

func holdout(ctx context.Context, train, test []expense.TrainingExample, cfg *config.Config) (*evaluate.Report, error) {
	ext, clf, err := fitCorpus(ctx, &corpus.Corpus{Examples: train}, cfg)
	if err != nil {
		return nil, err
	}

	texts, actual := (&corpus.Corpus{Examples: test}).Labels()
	X, err := ext.TransformAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	predicted := make([]string, len(X))
	for i, v := range X {
		best, bestP := "", -1.0
		probs := clf.PredictProba(v)
		for _, c := range clf.Classes() {
			if probs[c] > bestP {
				best, bestP = c, probs[c]
			}
		}
		predicted[i] = best
	}
	return evaluate.NewReport(actual, predicted)
}

func fitCorpus(ctx context.Context, c *corpus.Corpus, cfg *config.Config) (*features.Extractor, *classifier.Model, error) {
	ext, err := features.Fit(ctx, c.Examples, features.OptionsFromConfig(cfg.Features))
	if err != nil {
		return nil, nil, err
	}

	texts, labels := c.Labels()
	X, err := ext.TransformAll(ctx, texts)
	if err != nil {
		return nil, nil, err
	}

	clf, err := classifier.Fit(ctx, X, labels, classifier.OptionsFromConfig(cfg.Training))
	if err != nil {
		return nil, nil, err
	}
	return ext, clf, nil
}
