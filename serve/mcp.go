package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/consentgate/consent"
	"github.com/hazyhaar/consentgate/gate"
	"github.com/hazyhaar/consentgate/kit"
)

// RegisterMCP registers the consent tools on an MCP server. The tool surface
// mirrors the HTTP v1 routes; mutations are attributed to source "mcp".
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStateTool(srv)
	s.registerSetTool(srv)
	s.registerAcceptAllTool(srv)
	s.registerRejectTool(srv)
	s.registerGateTool(srv)
}

func (s *Service) registerStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_state",
		Description: "Return the current consent record: per-category choices, acknowledged version, and interaction timestamp.",
		InputSchema: kit.ObjectSchema(map[string]any{}, nil),
	}

	kit.RegisterTool(srv, tool, func(_ context.Context, _ json.RawMessage) (any, error) {
		return s.stateResponse(false), nil
	})
}

type mcpSetArgs struct {
	Category string `json:"category"`
	Choice   string `json:"choice"`
}

func (s *Service) registerSetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_set",
		Description: "Set the consent choice for one category. Choice is \"granted\" or \"denied\".",
		InputSchema: kit.ObjectSchema(map[string]any{
			"category": map[string]any{"type": "string", "description": "Category key, e.g. analytics"},
			"choice":   map[string]any{"type": "string", "enum": []string{"granted", "denied"}},
		}, []string{"category", "choice"}),
	}

	kit.RegisterTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var a mcpSetArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if a.Category == "" || !consent.Choice(a.Choice).Valid() {
			return nil, fmt.Errorf("category and choice (granted|denied) required")
		}
		changed := s.engine.Set(ctx, a.Category, consent.Choice(a.Choice))
		return mutationResponse{Changed: changed, State: s.stateResponse(true)}, nil
	})
}

func (s *Service) registerAcceptAllTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_accept_all",
		Description: "Grant every configured consent category.",
		InputSchema: kit.ObjectSchema(map[string]any{}, nil),
	}

	kit.RegisterTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		changed := s.engine.GrantAll(ctx)
		return mutationResponse{Changed: changed, State: s.stateResponse(true)}, nil
	})
}

func (s *Service) registerRejectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_reject_nonessential",
		Description: "Deny every category except locked ones.",
		InputSchema: kit.ObjectSchema(map[string]any{}, nil),
	}

	kit.RegisterTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		changed := s.engine.RejectNonEssential(ctx)
		return mutationResponse{Changed: changed, State: s.stateResponse(true)}, nil
	})
}

type mcpGateArgs struct {
	HTML string `json:"html"`
}

type mcpGateResult struct {
	HTML     string `json:"html"`
	Enabled  int    `json:"enabled"`
	Disabled int    `json:"disabled"`
}

func (s *Service) registerGateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "consent_gate_html",
		Description: "Rewrite an HTML document so its gated script tags match the current consent choices.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"html": map[string]any{"type": "string", "description": "HTML document to rewrite"},
		}, []string{"html"}),
	}

	kit.RegisterTool(srv, tool, func(_ context.Context, args json.RawMessage) (any, error) {
		var a mcpGateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if strings.TrimSpace(a.HTML) == "" {
			return nil, fmt.Errorf("html required")
		}

		doc, err := gate.Parse(strings.NewReader(a.HTML))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		rec := s.engine.Snapshot()
		res := gate.New(doc, gate.WithLogger(s.logger)).Apply(rec.Choices)
		out, err := doc.HTML()
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		return mcpGateResult{HTML: out, Enabled: res.Enabled, Disabled: res.Disabled}, nil
	})
}
