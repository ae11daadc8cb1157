package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/corpus"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/fsutil"
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string // required: .csv/.yaml/.yml seed examples, or .jsonl corrections export

	// Replace clears stored seed examples before loading. Ignored for .jsonl.
	Replace bool

	// Categories, when set, keeps only CSV rows with these categories.
	Categories []string
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Kind     string        `json:"kind"` // "examples" or "corrections"
	Imported int           `json:"imported"`
	Replaced int           `json:"replaced,omitempty"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// ImportError represents a rejected line of a corrections import.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Import loads labeled examples into the seed table, or restores corrections from an export.
// Imported data takes effect at the next retrain.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(input.Path), ".jsonl") {
		return importCorrections(ctx, database, input.Path)
	}
	return importExamples(ctx, database, input)
}

func importExamples(ctx context.Context, database *sql.DB, input ImportInput) (*ImportOutput, error) {
	src, err := corpus.File(input.Path)
	if err != nil {
		return nil, err
	}
	if f, ok := src.(corpus.CSVFile); ok {
		f.Categories = input.Categories
		src = f
	}

	examples, err := src.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	if len(examples) == 0 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("%s contains no usable examples", input.Path))
	}

	output := &ImportOutput{Kind: "examples"}
	if input.Replace {
		if output.Replaced, err = db.DeleteExamples(ctx, database); err != nil {
			return nil, err
		}
	}

	source := "import:" + filepath.Base(input.Path)
	if output.Imported, err = db.InsertExamples(ctx, database, examples, source); err != nil {
		return nil, err
	}
	output.Skipped = len(examples) - output.Imported
	return output, nil
}

// importCorrections restores corrections from an Export file.
// Corrections whose ID already exists are skipped; bad lines are reported and skipped.
func importCorrections(ctx context.Context, database *sql.DB, path string) (*ImportOutput, error) {
	file, err := fsutil.OpenNoFollowRead(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	output := &ImportOutput{Kind: "corrections"}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("import")
		}
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var record ExportRecord
		if err := json.Unmarshal(line, &record); err != nil {
			output.Errors = append(output.Errors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if record.SpendcatExport {
			continue
		}

		c := record.Correction
		c.CorrectCategory = expense.NormalizeCategory(c.CorrectCategory)
		if c.ID == "" || expense.IsBlank(c.Text) || c.CorrectCategory == "" {
			output.Errors = append(output.Errors, ImportError{
				Line:    lineNum,
				ID:      c.ID,
				Code:    "INVALID_RECORD",
				Message: "id, text and correct_category are required",
			})
			continue
		}

		if err := db.InsertCorrection(ctx, database, &c); err != nil {
			if err == db.ErrUniqueConstraint {
				output.Skipped++
				continue
			}
			return nil, err
		}
		output.Imported++
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.NewInternal(eris.Wrapf(err, "read %s", path))
	}
	return output, nil
}
