package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

// PredictInput contains parameters for the Predict operation.
type PredictInput struct {
	Text                 string
	IncludeProbabilities *bool // default: true (nil means default)
}

// PredictOutput is the prediction for one description.
type PredictOutput struct {
	expense.PredictionResult
}

// Predict classifies one expense description.
func Predict(ctx context.Context, eng *engine.Engine, input PredictInput) (*PredictOutput, error) {
	r, err := eng.Predict(ctx, input.Text)
	if err != nil {
		return nil, err
	}
	output := &PredictOutput{PredictionResult: *r}
	if input.IncludeProbabilities != nil && !*input.IncludeProbabilities {
		output.Probabilities = nil
	}
	return output, nil
}

// PredictBatchInput contains parameters for the PredictBatch operation.
type PredictBatchInput struct {
	Texts                []string
	IncludeProbabilities bool // default: false
}

// PredictBatchOutput holds one result per input, in input order.
type PredictBatchOutput struct {
	Items   []expense.PredictionResult `json:"items"`
	Version int                        `json:"version"`
}

// PredictBatch classifies many descriptions against the same model version.
// All-or-nothing: a blank entry fails the whole batch.
func PredictBatch(ctx context.Context, eng *engine.Engine, input PredictBatchInput) (*PredictBatchOutput, error) {
	if len(input.Texts) == 0 {
		return nil, errors.NewInvalidRequest("texts must not be empty")
	}
	if len(input.Texts) > MaxBatchItems {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("too many texts: %d (max %d)", len(input.Texts), MaxBatchItems))
	}

	results, err := eng.PredictBatch(ctx, input.Texts)
	if err != nil {
		return nil, err
	}

	output := &PredictBatchOutput{Items: make([]expense.PredictionResult, len(results))}
	for i, r := range results {
		output.Items[i] = *r
		if !input.IncludeProbabilities {
			output.Items[i].Probabilities = nil
		}
		output.Version = r.Version
	}
	return output, nil
}
