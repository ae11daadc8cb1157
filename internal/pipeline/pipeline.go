package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/features"
)

// Model is what a prediction needs from a trained artifact.
type Model interface {
	Transform(text string) features.Vector
	PredictProba(v features.Vector) map[string]float64

	// Categories returns the ordered category set. It always contains the fallback category.
	Categories() []string

	// CorrectedCategory returns the category a user asserted for exactly this normalized text.
	CorrectedCategory(normalized string) (string, bool)

	Version() int
}

// Policy turns raw model scores into a category and confidence level.
type Policy struct {
	Threshold float64
	High      float64
	Medium    float64
	Fallback  string
}

// DefaultPolicy returns threshold 0.45, breakpoints 0.75/0.50 and fallback "other".
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.DefaultConfig())
}

// PolicyFromConfig reads the policy constants from cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Threshold: cfg.ConfidenceThreshold,
		High:      cfg.HighConfidence,
		Medium:    cfg.MediumConfidence,
		Fallback:  expense.NormalizeCategory(cfg.FallbackCategory),
	}
}

// Validate checks 0 <= medium <= high <= 1, threshold in [0,1] and a non-empty fallback.
func (p Policy) Validate() error {
	if p.Threshold < 0 || p.Threshold > 1 {
		return errors.NewInvalidRequest(fmt.Sprintf("threshold must be in [0,1], got %v", p.Threshold))
	}
	if p.Medium < 0 || p.High > 1 || p.Medium > p.High {
		return errors.NewInvalidRequest(fmt.Sprintf("breakpoints must satisfy 0 <= medium <= high <= 1, got medium=%v high=%v", p.Medium, p.High))
	}
	if strings.TrimSpace(p.Fallback) == "" {
		return errors.NewInvalidRequest("fallback category must not be empty")
	}
	return nil
}

// Level buckets a score. It depends only on the score.
func (p Policy) Level(score float64) expense.ConfidenceLevel {
	switch {
	case score >= p.High:
		return expense.ConfidenceHigh
	case score >= p.Medium:
		return expense.ConfidenceMedium
	default:
		return expense.ConfidenceLow
	}
}

// Predict classifies one description against m.
// It has no side effects: the same text, model and policy always give the same result.
func Predict(m Model, p Policy, text string) (*expense.PredictionResult, error) {
	if expense.IsBlank(text) {
		return nil, errors.NewEmptyInput()
	}

	categories := m.Categories()
	if len(categories) == 0 {
		return nil, errors.NewInternal(fmt.Errorf("model v%d has an empty category set", m.Version()))
	}

	raw := m.PredictProba(m.Transform(text))

	// Categories the classifier never saw score 0. Ties go to the earlier category.
	probs := make(map[string]float64, len(categories))
	best, bestScore := categories[0], -1.0
	for _, c := range categories {
		s := clamp01(raw[c])
		probs[c] = s
		if s > bestScore {
			best, bestScore = c, s
		}
	}

	result := &expense.PredictionResult{
		InputText:     text,
		ModelCategory: best,
		ModelScore:    bestScore,
		Score:         bestScore,
		Probabilities: probs,
		Version:       m.Version(),
	}

	if corrected, ok := m.CorrectedCategory(expense.Normalize(text)); ok {
		result.Category = corrected
		result.Score = 1.0
		result.Reason = expense.ReasonMatchedCorrection
	} else if bestScore < p.Threshold {
		result.Category = p.Fallback
		result.Reason = expense.ReasonLowConfidence
	} else {
		result.Category = best
		result.Reason = expense.ReasonPredicted
	}
	result.ConfidenceLevel = p.Level(result.Score)

	return result, nil
}

// PredictBatch classifies texts in parallel. Results keep input order.
// A blank entry fails the whole batch with EMPTY_INPUT and its index in Details.
func PredictBatch(ctx context.Context, m Model, p Policy, texts []string) ([]*expense.PredictionResult, error) {
	for i, text := range texts {
		if expense.IsBlank(text) {
			err := errors.NewEmptyInput()
			err.Details = map[string]any{"index": i}
			return nil, err
		}
	}

	results := make([]*expense.PredictionResult, len(texts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, text := range texts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			r, err := Predict(m, p, text)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
