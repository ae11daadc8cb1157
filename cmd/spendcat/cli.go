package main

import (
	"bufio"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/ops"
)

// maxStdinBytes caps piped input for predict.
const maxStdinBytes = 4 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(eng *engine.Engine, db *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "spendcat",
		Usage:   "Expense description classifier",
		Version: Version,
		Commands: []*cli.Command{
			predictCmd(eng),
			correctCmd(eng),
			correctionsCmd(eng),
			retrainCmd(eng),
			statusCmd(eng),
			versionsCmd(eng),
			rollbackCmd(eng),
			discardCmd(eng),
			explainCmd(eng),
			importCmd(db, cfg),
			exportCmd(db, cfg),
			seedCmd(db),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// predictCmd creates the predict command.
func predictCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Classify an expense description (or one description per stdin line)",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "probabilities", Aliases: []string{"p"}, Usage: "Include per-category probabilities"},
		},
		Action: func(c *cli.Context) error {
			withProbs := c.Bool("probabilities")

			if c.NArg() > 0 {
				output, err := ops.Predict(c.Context, eng, ops.PredictInput{
					Text:                 strings.Join(c.Args().Slice(), " "),
					IncludeProbabilities: &withProbs,
				})
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("text is required (argument or piped stdin)"))
			}
			lines, err := readStdinLines(maxStdinBytes)
			if err != nil {
				return outputError(err)
			}
			if len(lines) == 0 {
				return outputError(errors.NewEmptyInput())
			}

			output, err := ops.PredictBatch(c.Context, eng, ops.PredictBatchInput{
				Texts:                lines,
				IncludeProbabilities: withProbs,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// correctCmd creates the correct command.
func correctCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "correct",
		Usage:     "Record the correct category for a description (applied at the next retrain)",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Required: true, Usage: "Correct category"},
			&cli.BoolFlag{Name: "new-category", Usage: "Allow a category the active model does not know yet"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("text is required"))
			}
			output, err := ops.Correct(c.Context, eng, ops.CorrectInput{
				Text:        strings.Join(c.Args().Slice(), " "),
				Category:    c.String("category"),
				NewCategory: c.Bool("new-category"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// correctionsCmd creates the corrections command.
func correctionsCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "corrections",
		Usage: "List recorded corrections, oldest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Page size"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Corrections(c.Context, eng, ops.CorrectionsInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// retrainCmd creates the retrain command.
func retrainCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "retrain",
		Usage: "Fit a new model from the seed corpus plus all corrections and activate it",
		Action: func(c *cli.Context) error {
			output, err := ops.Retrain(c.Context, eng)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the active model and pending corrections",
		Action: func(c *cli.Context) error {
			output, err := ops.Status(c.Context, eng)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// versionsCmd creates the versions command.
func versionsCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "versions",
		Usage: "List retained model versions",
		Action: func(c *cli.Context) error {
			output, err := ops.Versions(c.Context, eng)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// rollbackCmd creates the rollback command.
func rollbackCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Reactivate the previous model version",
		Action: func(c *cli.Context) error {
			output, err := ops.Rollback(c.Context, eng)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// discardCmd creates the discard command.
func discardCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "discard",
		Usage:     "Delete an inactive model version",
		ArgsUsage: "<version>",
		Action: func(c *cli.Context) error {
			version, err := parseVersion(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Discard(c.Context, eng, ops.DiscardInput{Version: version})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// explainCmd creates the explain command.
func explainCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "explain",
		Usage:     "Show the features that push the model toward a category",
		ArgsUsage: "<category>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "top", Aliases: []string{"k"}, Value: ops.DefaultExplainTop, Usage: "Number of features"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Explain(c.Context, eng, ops.ExplainInput{
				Category: c.Args().First(),
				Top:      c.Int("top"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Load seed examples (.csv/.yaml) or restore corrections (.jsonl)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "File to import"},
			&cli.BoolFlag{Name: "replace", Usage: "Clear stored seed examples first"},
			&cli.StringFlag{Name: "categories", Usage: "Comma-separated categories to keep (CSV only)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, db, cfg, ops.ImportInput{
				Path:       c.String("path"),
				Replace:    c.Bool("replace"),
				Categories: parseList(c.String("categories")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export corrections to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output path (default: ~/.spendcat/exports/corrections-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, db, cfg, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// seedCmd creates the seed command.
func seedCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Copy the built-in seed corpus into the database",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "replace", Usage: "Overwrite stored seed examples"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Seed(c.Context, db, ops.SeedInput{Replace: c.Bool("replace")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.SpendError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdinLines reads non-blank lines from stdin, up to limit bytes.
func readStdinLines(limit int64) ([]string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), int(limit))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return lines, nil
}

// parseList splits a comma-separated string, dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseVersion parses a positive model version, accepting an optional "v" prefix.
func parseVersion(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return 0, errors.NewInvalidRequest("version is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid version: %q", s))
	}
	return n, nil
}
