package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/spendcat/internal/engine"
	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	eng *engine.Engine
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine) *Handlers {
	return &Handlers{eng: eng}
}

// Request types for each tool

// PredictRequest represents the arguments for expense_predict.
type PredictRequest struct {
	Text                 string `json:"text"`
	IncludeProbabilities *bool  `json:"include_probabilities,omitempty"`
}

// PredictBatchRequest represents the arguments for expense_predict_batch.
type PredictBatchRequest struct {
	Texts                []string `json:"texts"`
	IncludeProbabilities bool     `json:"include_probabilities,omitempty"`
}

// CorrectRequest represents the arguments for expense_correct.
type CorrectRequest struct {
	Text        string `json:"text"`
	Category    string `json:"category"`
	NewCategory bool   `json:"new_category,omitempty"`
}

// CorrectionsRequest represents the arguments for expense_corrections.
type CorrectionsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ExplainRequest represents the arguments for model_explain.
type ExplainRequest struct {
	Category string `json:"category"`
	Top      int    `json:"top,omitempty"`
}

// Handler implementations

// HandlePredict handles the expense_predict tool call.
func (h *Handlers) HandlePredict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PredictRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Predict(ctx, h.eng, ops.PredictInput{
		Text:                 input.Text,
		IncludeProbabilities: input.IncludeProbabilities,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePredictBatch handles the expense_predict_batch tool call.
func (h *Handlers) HandlePredictBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PredictBatchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.PredictBatch(ctx, h.eng, ops.PredictBatchInput{
		Texts:                input.Texts,
		IncludeProbabilities: input.IncludeProbabilities,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCorrect handles the expense_correct tool call.
func (h *Handlers) HandleCorrect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CorrectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Correct(ctx, h.eng, ops.CorrectInput{
		Text:        input.Text,
		Category:    input.Category,
		NewCategory: input.NewCategory,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCorrections handles the expense_corrections tool call.
func (h *Handlers) HandleCorrections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CorrectionsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Corrections(ctx, h.eng, ops.CorrectionsInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRetrain handles the model_retrain tool call.
func (h *Handlers) HandleRetrain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Retrain(ctx, h.eng)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStatus handles the model_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Status(ctx, h.eng)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleVersions handles the model_versions tool call.
func (h *Handlers) HandleVersions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Versions(ctx, h.eng)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRollback handles the model_rollback tool call.
func (h *Handlers) HandleRollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Rollback(ctx, h.eng)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExplain handles the model_explain tool call.
func (h *Handlers) HandleExplain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExplainRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Explain(ctx, h.eng, ops.ExplainInput{
		Category: input.Category,
		Top:      input.Top,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.SpendError
	if stderrors.As(err, &sErr) {
		msg := sErr.Message
		if err != error(sErr) && sErr.Code != errors.ErrInternal {
			// keep wrapper context such as "texts[3]: ..."
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": msg,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
