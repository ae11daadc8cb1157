package mcp

import "github.com/mark3labs/mcp-go/mcp"

var predictToolDef = mcp.NewTool("expense_predict",
	mcp.WithDescription("Classify one expense description into a spending category. "+
		"Returns the category, a confidence level (high/medium/low), the score and the reason. "+
		"Low-confidence predictions fall back to the configured fallback category."),
	mcp.WithString("text", mcp.Required(), mcp.Description("Expense description, e.g. \"uber ride to airport\"")),
	mcp.WithBoolean("include_probabilities", mcp.Description("Include per-category probabilities (default true)")),
)

var predictBatchToolDef = mcp.NewTool("expense_predict_batch",
	mcp.WithDescription("Classify many expense descriptions with the same model version. "+
		"Results are returned in input order. A blank entry fails the whole batch."),
	mcp.WithArray("texts", mcp.Required(),
		mcp.Description("Expense descriptions (max 500)"),
		mcp.Items(map[string]any{"type": "string"}),
	),
	mcp.WithBoolean("include_probabilities", mcp.Description("Include per-category probabilities (default false)")),
)

var correctToolDef = mcp.NewTool("expense_correct",
	mcp.WithDescription("Record the correct category for an expense description. "+
		"Corrections take effect at the next model_retrain; an exact re-entry of the same text then returns this category."),
	mcp.WithString("text", mcp.Required(), mcp.Description("Expense description as entered")),
	mcp.WithString("category", mcp.Required(), mcp.Description("Correct category")),
	mcp.WithBoolean("new_category", mcp.Description("Allow a category the active model does not know yet")),
)

var correctionsToolDef = mcp.NewTool("expense_corrections",
	mcp.WithDescription("List recorded corrections, oldest first."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var retrainToolDef = mcp.NewTool("model_retrain",
	mcp.WithDescription("Retrain the classifier from the seed corpus plus all corrections and activate the new version. "+
		"Fails with CONFLICT if a retrain is already running; the active model is untouched on failure."),
)

var statusToolDef = mcp.NewTool("model_status",
	mcp.WithDescription("Show the active model version, its categories and evaluation, and pending corrections."),
)

var versionsToolDef = mcp.NewTool("model_versions",
	mcp.WithDescription("List retained model versions, newest first."),
)

var rollbackToolDef = mcp.NewTool("model_rollback",
	mcp.WithDescription("Reactivate the previous model version."),
)

var explainToolDef = mcp.NewTool("model_explain",
	mcp.WithDescription("List the features that push the active model hardest toward a category."),
	mcp.WithString("category", mcp.Required(), mcp.Description("Category to explain")),
	mcp.WithNumber("top", mcp.Description("Number of features (default 10, max 100)")),
)
