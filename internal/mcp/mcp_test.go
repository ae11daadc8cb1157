package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/corpus"
	"github.com/hpungsan/spendcat/internal/db"
	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/expense"
)

// testSetup creates a temporary database, config and engine for testing.
func testSetup(t *testing.T) (*engine.Engine, *config.Config, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Training.Iterations = 150

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

	cleanup := func() {
		database.Close()
	}

	return eng, cfg, cleanup
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandlePredict(t *testing.T) {
	eng, _, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(eng)
	ctx := context.Background()

	t.Run("no model", func(t *testing.T) {
		result, err := h.HandlePredict(ctx, makeRequest(map[string]any{"text": "uber ride"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertErrorCode(t, result, "NO_MODEL")
	})

	if _, err := h.HandleRetrain(ctx, makeRequest(nil)); err != nil {
		t.Fatalf("retrain: %v", err)
	}

	t.Run("success", func(t *testing.T) {
		result, err := h.HandlePredict(ctx, makeRequest(map[string]any{"text": "uber ride"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := parseOutput(t, result)
		if output["input_text"] != "uber ride" {
			t.Errorf("input_text = %v, want %q", output["input_text"], "uber ride")
		}
		if output["version"] != float64(1) {
			t.Errorf("version = %v, want 1", output["version"])
		}
		for _, key := range []string{"category", "confidence_level", "score", "reason", "probabilities"} {
			if _, ok := output[key]; !ok {
				t.Errorf("missing %q in output", key)
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		result, err := h.HandlePredict(ctx, makeRequest(map[string]any{"text": "   "}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertErrorCode(t, result, "EMPTY_INPUT")
	})

	t.Run("bad argument type", func(t *testing.T) {
		result, err := h.HandlePredict(ctx, makeRequest(map[string]any{"text": 42}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandlePredictBatch(t *testing.T) {
	eng, _, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(eng)
	ctx := context.Background()
	if _, err := h.HandleRetrain(ctx, makeRequest(nil)); err != nil {
		t.Fatalf("retrain: %v", err)
	}

	result, err := h.HandlePredictBatch(ctx, makeRequest(map[string]any{
		"texts": []any{"netflix", "amazon order"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	items, ok := output["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("items = %v, want 2 entries", output["items"])
	}
	first := items[0].(map[string]any)
	if first["input_text"] != "netflix" {
		t.Errorf("items[0].input_text = %v, want netflix", first["input_text"])
	}

	result, err = h.HandlePredictBatch(ctx, makeRequest(map[string]any{"texts": []any{"netflix", ""}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, "EMPTY_INPUT")
}

func TestHandleCorrectAndRetrain(t *testing.T) {
	eng, _, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(eng)
	ctx := context.Background()

	result, err := h.HandleRetrain(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := parseOutput(t, result)["version"]; v != float64(1) {
		t.Errorf("version = %v, want 1", v)
	}

	// Unknown category without new_category
	result, err = h.HandleCorrect(ctx, makeRequest(map[string]any{"text": "gym membership", "category": "health"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, err = h.HandleCorrect(ctx, makeRequest(map[string]any{"text": "gym membership", "category": "Other"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	if output["correct_category"] != "other" {
		t.Errorf("correct_category = %v, want other", output["correct_category"])
	}
	if output["pending_corrections"] != float64(1) {
		t.Errorf("pending_corrections = %v, want 1", output["pending_corrections"])
	}

	result, err = h.HandleCorrections(ctx, makeRequest(map[string]any{"limit": 10}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	listing := parseOutput(t, result)
	if items := listing["items"].([]any); len(items) != 1 {
		t.Errorf("len(items) = %d, want 1", len(items))
	}

	if _, err := h.HandleRetrain(ctx, makeRequest(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err = h.HandlePredict(ctx, makeRequest(map[string]any{"text": "Gym Membership"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prediction := parseOutput(t, result)
	if prediction["category"] != "other" {
		t.Errorf("category = %v, want other", prediction["category"])
	}
	if prediction["reason"] != expense.ReasonMatchedCorrection {
		t.Errorf("reason = %v, want %q", prediction["reason"], expense.ReasonMatchedCorrection)
	}
}

func TestHandleModelTools(t *testing.T) {
	eng, _, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(eng)
	ctx := context.Background()

	result, err := h.HandleStatus(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := parseOutput(t, result)["model"]; ok {
		t.Error("status should omit model before training")
	}

	result, err = h.HandleRollback(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, "NO_MODEL")

	for i := 0; i < 2; i++ {
		if _, err := h.HandleRetrain(ctx, makeRequest(nil)); err != nil {
			t.Fatalf("retrain: %v", err)
		}
	}

	result, err = h.HandleVersions(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items := parseOutput(t, result)["items"].([]any); len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}

	result, err = h.HandleRollback(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model := parseOutput(t, result)["model"].(map[string]any)
	if model["version"] != float64(1) {
		t.Errorf("model.version = %v, want 1", model["version"])
	}

	result, err = h.HandleExplain(ctx, makeRequest(map[string]any{"category": "travel", "top": 3}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	explained := parseOutput(t, result)
	if signals := explained["signals"].([]any); len(signals) == 0 || len(signals) > 3 {
		t.Errorf("len(signals) = %d, want 1..3", len(signals))
	}

	result, err = h.HandleExplain(ctx, makeRequest(map[string]any{"category": "groceries"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestServerRegistration(t *testing.T) {
	eng, cfg, cleanup := testSetup(t)
	defer cleanup()

	s := NewServer(eng, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"expense_predict",
		"expense_predict_batch",
		"expense_correct",
		"expense_corrections",
		"model_retrain",
		"model_status",
		"model_versions",
		"model_rollback",
		"model_explain",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	eng, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = []string{"model_retrain", "model_rollback"}
	s := NewServer(eng, cfg, "test")
	tools := s.ListTools()

	if len(tools) != 7 {
		t.Errorf("registered tool count = %d, want 7", len(tools))
	}

	for _, name := range []string{"model_retrain", "model_rollback"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}

	for _, name := range []string{"expense_predict", "expense_correct"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("core tool %q should be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	eng, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = AllToolNames()
	s := NewServer(eng, cfg, "test")
	tools := s.ListTools()

	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestServerRegistration_DuplicateDisabled(t *testing.T) {
	eng, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = []string{"model_retrain", "model_retrain", "model_retrain"}
	s := NewServer(eng, cfg, "test")
	tools := s.ListTools()

	if len(tools) != 8 {
		t.Errorf("registered tool count = %d, want 8", len(tools))
	}

	if _, ok := tools["model_retrain"]; ok {
		t.Error("disabled tool 'model_retrain' should not be registered")
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{
			name:    "all valid",
			input:   []string{"model_retrain", "expense_correct"},
			wantLen: 0,
		},
		{
			name:    "one unknown",
			input:   []string{"model_retrain", "fake_tool"},
			wantLen: 1,
		},
		{
			name:    "all unknown",
			input:   []string{"foo", "bar", "baz"},
			wantLen: 3,
		},
		{
			name:    "empty list",
			input:   []string{},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()

	if len(names) != 9 {
		t.Errorf("AllToolNames() returned %d names, want 9", len(names))
	}

	unknown := ValidateDisabledTools(names)
	if len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
	if strings.Contains(errObj["message"].(string), "secret.db") {
		t.Fatal("INTERNAL message must not leak the cause")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("texts[2]: %w", errors.NewEmptyInput())

	r := errorResult(wrappedErr)
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrEmptyInput) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrEmptyInput)
	}
	msg := errObj["message"].(string)
	if !strings.Contains(msg, "texts[2]") {
		t.Errorf("message should contain wrapper context 'texts[2]', got: %s", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	e := errors.NewConflict("a retrain is already in progress")
	e.Details = map[string]any{"reason": "RETRAIN_IN_PROGRESS"}
	r := errorResult(e)

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrConflict) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrConflict)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != "INTERNAL" {
		t.Errorf("code=%v, want INTERNAL", errObj["code"])
	}
}

// Helper functions

func errorObject(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
