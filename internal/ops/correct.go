package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

// CorrectInput contains parameters for the Correct operation.
type CorrectInput struct {
	Text     string
	Category string

	// NewCategory allows a category the active model does not know yet.
	// It enters the model at the next retrain.
	NewCategory bool
}

// CorrectOutput contains the recorded correction.
type CorrectOutput struct {
	expense.Correction
	PendingCorrections int `json:"pending_corrections"`
}

// Correct records a user correction. It does not retrain.
// The category must belong to the active model unless NewCategory is set;
// with no model yet, any category is accepted.
func Correct(ctx context.Context, eng *engine.Engine, input CorrectInput) (*CorrectOutput, error) {
	if expense.IsBlank(input.Text) {
		return nil, errors.NewInvalidRequest("text is required")
	}
	category := expense.NormalizeCategory(input.Category)
	if category == "" {
		return nil, errors.NewInvalidRequest("category is required")
	}

	if !input.NewCategory {
		a, err := eng.Active(ctx)
		switch {
		case err == nil:
			if !a.HasCategory(category) {
				e := errors.NewInvalidRequest(fmt.Sprintf(
					"unknown category %q (known: %s); pass new_category to add it",
					category, strings.Join(a.Categories(), ", ")))
				e.Details = map[string]any{"categories": a.Categories()}
				return nil, e
			}
		case errors.Is(err, errors.ErrNoModel):
		default:
			return nil, err
		}
	}

	c, err := eng.RecordCorrection(ctx, input.Text, category)
	if err != nil {
		return nil, err
	}

	status, err := eng.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &CorrectOutput{Correction: *c, PendingCorrections: status.PendingCorrections}, nil
}

// CorrectionsInput contains parameters for the Corrections operation.
type CorrectionsInput struct {
	Limit  int // default: 20, max: 100
	Offset int
}

// CorrectionsOutput is one page of corrections in insertion order.
type CorrectionsOutput struct {
	Items      []expense.Correction `json:"items"`
	Pagination Pagination           `json:"pagination"`
}

// Corrections lists recorded corrections oldest first.
func Corrections(ctx context.Context, eng *engine.Engine, input CorrectionsInput) (*CorrectionsOutput, error) {
	limit, offset := normalizePage(input.Limit, input.Offset)

	items, total, err := eng.Corrections(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []expense.Correction{}
	}

	return &CorrectionsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}
