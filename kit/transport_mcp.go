package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolFunc handles one MCP tool call. Arguments arrive as raw JSON; the
// returned value is marshalled into the tool result.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// RegisterTool registers a ToolFunc on an MCP server. Handler errors are
// reported as tool errors, never as protocol failures. The context is tagged
// with source "mcp" so consent mutations are attributed correctly.
func RegisterTool(srv *mcp.Server, tool *mcp.Tool, fn ToolFunc) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithSource(ctx, "mcp")

		resp, err := fn(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// ObjectSchema builds a JSON Schema object for a tool input.
func ObjectSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
