package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rotisserie/eris"
)

// decode unmarshals MCP request arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	args := req.GetArguments()
	b, err := json.Marshal(args)
	if err != nil {
		return result, eris.Wrap(err, "marshal args")
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, eris.Wrap(err, "unmarshal args")
	}
	return result, nil
}
