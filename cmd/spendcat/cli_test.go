package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/corpus"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
	"github.com/hpungsan/spendcat/internal/ops"
	"github.com/hpungsan/spendcat/internal/retrain"
)

// setupTestApp creates a temporary database, engine and CLI app for testing.
func setupTestApp(t *testing.T) (*engine.Engine, *sql.DB, *config.Config) {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Training.Iterations = 150
	cfg.AllowedPaths = []string{tmpDir}

	seed := corpus.Memory{Label: "test", Examples: []expense.TrainingExample{
		{Text: "uber ride", Category: "travel"},
		{Text: "dominos pizza", Category: "food"},
		{Text: "netflix", Category: "entertainment"},
		{Text: "amazon order", Category: "shopping"},
	}}
	eng, err := engine.New(database, tmpDir, cfg, zap.NewNop(), engine.Options{Seed: seed})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng, database, cfg
}

// runCLI runs args against app with the given stdin (nil keeps the real stdin)
// and returns what the command wrote to stdout.
func runCLI(t *testing.T, eng *engine.Engine, database *sql.DB, cfg *config.Config, stdin *string, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(eng, database, cfg)

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w
	captured := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		captured <- buf.String()
	}()

	oldStdin := os.Stdin
	if stdin != nil {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			t.Fatalf("failed to create pipe: %v", err)
		}
		os.Stdin = stdinR
		go func() {
			_, _ = stdinW.WriteString(*stdin)
			stdinW.Close()
		}()
	}

	runErr := app.Run(append([]string{"spendcat"}, args...))

	os.Stdin = oldStdin
	w.Close()
	os.Stdout = oldStdout
	return <-captured, runErr
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single", "food", []string{"food"}},
		{"multiple", "food,travel", []string{"food", "travel"}},
		{"spaces and empties", " food , ,travel,", []string{"food", "travel"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseList(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d items, got %d", len(tt.expected), len(result))
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("item[%d] = %q, want %q", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input       string
		expected    int
		expectError bool
	}{
		{"3", 3, false},
		{"v12", 12, false},
		{" 7 ", 7, false},
		{"", 0, true},
		{"0", 0, true},
		{"-1", 0, true},
		{"latest", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseVersion(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for %q, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("parseVersion(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCLIRetrainPredict(t *testing.T) {
	eng, database, cfg := setupTestApp(t)

	out, err := runCLI(t, eng, database, cfg, nil, "retrain")
	if err != nil {
		t.Fatalf("retrain command failed: %v", err)
	}
	var res retrain.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if res.Version != 1 {
		t.Errorf("version = %d, want 1", res.Version)
	}

	out, err = runCLI(t, eng, database, cfg, nil, "predict", "uber", "ride")
	if err != nil {
		t.Fatalf("predict command failed: %v", err)
	}
	var prediction ops.PredictOutput
	if err := json.Unmarshal([]byte(out), &prediction); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if prediction.InputText != "uber ride" {
		t.Errorf("input_text = %q, want %q", prediction.InputText, "uber ride")
	}
	if prediction.Probabilities != nil {
		t.Error("probabilities should be omitted without --probabilities")
	}
}

func TestCLIPredictStdin(t *testing.T) {
	eng, database, cfg := setupTestApp(t)
	if _, err := runCLI(t, eng, database, cfg, nil, "retrain"); err != nil {
		t.Fatalf("retrain command failed: %v", err)
	}

	stdin := "netflix\n\n  amazon order  \ndominos pizza\n"
	out, err := runCLI(t, eng, database, cfg, &stdin, "predict")
	if err != nil {
		t.Fatalf("predict command failed: %v", err)
	}
	var batch ops.PredictBatchOutput
	if err := json.Unmarshal([]byte(out), &batch); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if len(batch.Items) != 3 {
		t.Fatalf("expected 3 items (blank lines skipped), got %d", len(batch.Items))
	}
	if batch.Items[1].InputText != "amazon order" {
		t.Errorf("items[1].input_text = %q, want %q", batch.Items[1].InputText, "amazon order")
	}
}

func TestCLICorrectAndStatus(t *testing.T) {
	eng, database, cfg := setupTestApp(t)

	out, err := runCLI(t, eng, database, cfg, nil, "correct", "--category=Other", "gym", "membership")
	if err != nil {
		t.Fatalf("correct command failed: %v", err)
	}
	var correction ops.CorrectOutput
	if err := json.Unmarshal([]byte(out), &correction); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if correction.CorrectCategory != "other" || correction.Text != "gym membership" {
		t.Errorf("unexpected correction: %+v", correction)
	}

	out, err = runCLI(t, eng, database, cfg, nil, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	var status engine.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if status.PendingCorrections != 1 || status.Model != nil {
		t.Errorf("unexpected status: %+v", status)
	}

	out, err = runCLI(t, eng, database, cfg, nil, "corrections", "--limit=5")
	if err != nil {
		t.Fatalf("corrections command failed: %v", err)
	}
	if !strings.Contains(out, "gym membership") {
		t.Errorf("corrections output missing entry: %s", out)
	}
}

func TestCLIVersionsRollbackDiscard(t *testing.T) {
	eng, database, cfg := setupTestApp(t)
	for i := 0; i < 3; i++ {
		if _, err := runCLI(t, eng, database, cfg, nil, "retrain"); err != nil {
			t.Fatalf("retrain command failed: %v", err)
		}
	}

	if _, err := runCLI(t, eng, database, cfg, nil, "rollback"); err != nil {
		t.Fatalf("rollback command failed: %v", err)
	}
	if _, err := runCLI(t, eng, database, cfg, nil, "discard", "v3"); err != nil {
		t.Fatalf("discard command failed: %v", err)
	}

	out, err := runCLI(t, eng, database, cfg, nil, "versions")
	if err != nil {
		t.Fatalf("versions command failed: %v", err)
	}
	var versions ops.VersionsOutput
	if err := json.Unmarshal([]byte(out), &versions); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if len(versions.Items) != 2 || versions.Items[0].Version != 2 || !versions.Items[0].Active {
		t.Errorf("unexpected versions: %+v", versions.Items)
	}

	out, err = runCLI(t, eng, database, cfg, nil, "explain", "--top=3", "food")
	if err != nil {
		t.Fatalf("explain command failed: %v", err)
	}
	var explained ops.ExplainOutput
	if err := json.Unmarshal([]byte(out), &explained); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if explained.Version != 2 || len(explained.Signals) == 0 {
		t.Errorf("unexpected explain output: %+v", explained)
	}
}

func TestCLISeedExport(t *testing.T) {
	eng, database, cfg := setupTestApp(t)

	out, err := runCLI(t, eng, database, cfg, nil, "seed")
	if err != nil {
		t.Fatalf("seed command failed: %v", err)
	}
	var seeded ops.SeedOutput
	if err := json.Unmarshal([]byte(out), &seeded); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if seeded.Imported == 0 {
		t.Error("expected seed examples to be stored")
	}

	if _, err := runCLI(t, eng, database, cfg, nil, "correct", "--category=food", "pizza"); err != nil {
		t.Fatalf("correct command failed: %v", err)
	}
	path := filepath.Join(cfg.AllowedPaths[0], "corrections.jsonl")
	out, err = runCLI(t, eng, database, cfg, nil, "export", "--path="+path)
	if err != nil {
		t.Fatalf("export command failed: %v", err)
	}
	var exported ops.ExportOutput
	if err := json.Unmarshal([]byte(out), &exported); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if exported.Count != 1 || exported.Path != path {
		t.Errorf("unexpected export output: %+v", exported)
	}
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	eng, database, cfg := setupTestApp(t)

	tests := []struct {
		name string
		args []string
	}{
		{"predict before training", []string{"predict", "uber ride"}},
		{"correct without category", []string{"correct", "pizza"}},
		{"correct without text", []string{"correct", "--category=food"}},
		{"discard invalid version", []string{"discard", "abc"}},
		{"rollback without model", []string{"rollback"}},
		{"explain without model", []string{"explain", "food"}},
		{"import without path", []string{"import"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// cli.Exit writes to stderr, so just verify the error is returned
			if _, err := runCLI(t, eng, database, cfg, nil, tt.args...); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestOutputError_Format(t *testing.T) {
	err := outputError(errors.NewNoModel())
	if err == nil || !strings.HasPrefix(err.Error(), "[NO_MODEL] ") {
		t.Errorf("outputError = %v, want [NO_MODEL] prefix", err)
	}
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"spendcat"}, false},
		{"predict command", []string{"spendcat", "predict"}, true},
		{"retrain command", []string{"spendcat", "retrain"}, true},
		{"help flag", []string{"spendcat", "--help"}, true},
		{"version flag", []string{"spendcat", "--version"}, true},
		{"short help flag", []string{"spendcat", "-h"}, true},
		{"short version flag", []string{"spendcat", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"spendcat", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"spendcat"}, false},
		{"help flag", []string{"spendcat", "--help"}, true},
		{"short help flag", []string{"spendcat", "-h"}, true},
		{"version flag", []string{"spendcat", "--version"}, true},
		{"short version flag", []string{"spendcat", "-v"}, true},
		{"help subcommand", []string{"spendcat", "help"}, true},
		{"predict command is not help", []string{"spendcat", "predict"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestReadStdinLines tests that readStdinLines respects size limits.
func TestReadStdinLines(t *testing.T) {
	withStdin := func(t *testing.T, content string) {
		t.Helper()
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()
		oldStdin := os.Stdin
		os.Stdin = r
		t.Cleanup(func() { os.Stdin = oldStdin })
	}

	t.Run("within limit", func(t *testing.T) {
		withStdin(t, "uber ride\n\n netflix \n")
		lines, err := readStdinLines(1000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(lines) != 2 || lines[0] != "uber ride" || lines[1] != "netflix" {
			t.Errorf("lines = %q", lines)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		withStdin(t, strings.Repeat("x", 100))
		if _, err := readStdinLines(50); err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}

func TestBaseDirectory_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPENDCAT_HOME", dir)

	got, err := baseDirectory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != dir {
		t.Errorf("baseDirectory() = %q, want %q", got, dir)
	}
}
