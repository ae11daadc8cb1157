package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/spendcat/internal/corpus"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/errors"
)

// SeedInput contains parameters for the Seed operation.
type SeedInput struct {
	// Replace clears stored examples first. Without it, seeding a non-empty table is a conflict.
	Replace bool
}

// SeedOutput reports how many default examples were stored.
type SeedOutput struct {
	Source   string `json:"source"`
	Imported int    `json:"imported"`
	Replaced int    `json:"replaced,omitempty"`
}

// Seed copies the embedded default corpus into the examples table so it can be
// edited or extended with Import.
func Seed(ctx context.Context, database *sql.DB, input SeedInput) (*SeedOutput, error) {
	existing, err := db.CountExamples(ctx, database)
	if err != nil {
		return nil, err
	}
	if existing > 0 && !input.Replace {
		e := errors.NewConflict("examples table is not empty; pass replace to overwrite it")
		e.Details = map[string]any{"stored_examples": existing}
		return nil, e
	}

	src := corpus.Default()
	examples, err := src.Iterate(ctx)
	if err != nil {
		return nil, err
	}

	output := &SeedOutput{Source: src.Name()}
	if existing > 0 {
		if output.Replaced, err = db.DeleteExamples(ctx, database); err != nil {
			return nil, err
		}
	}
	if output.Imported, err = db.InsertExamples(ctx, database, examples, src.Name()); err != nil {
		return nil, err
	}
	return output, nil
}
