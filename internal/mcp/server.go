package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/spendcat/internal/config"
	"github.com/hpungsan/spendcat/internal/engine"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"expense_predict": {
		def:     predictToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePredict },
	},
	"expense_predict_batch": {
		def:     predictBatchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePredictBatch },
	},
	"expense_correct": {
		def:     correctToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCorrect },
	},
	"expense_corrections": {
		def:     correctionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCorrections },
	},
	"model_retrain": {
		def:     retrainToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRetrain },
	},
	"model_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"model_versions": {
		def:     versionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVersions },
	},
	"model_rollback": {
		def:     rollbackToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRollback },
	},
	"model_explain": {
		def:     explainToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExplain },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with spendcat tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(eng *engine.Engine, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"spendcat",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(eng)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport. It blocks until stdin closes.
func Run(eng *engine.Engine, cfg *config.Config, version string) error {
	s := NewServer(eng, cfg, version)
	return server.ServeStdio(s)
}
