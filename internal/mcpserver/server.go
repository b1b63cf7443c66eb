// Package mcpserver exposes property lookup and prompt cleaning as Model
// Context Protocol tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/simula/soccer-rag/internal/cleaner"
	"github.com/simula/soccer-rag/internal/match"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/reconcile"
	"github.com/simula/soccer-rag/internal/retriever"
	"github.com/simula/soccer-rag/internal/schema"
)

// Config holds what the tools need. Cleaner may be nil, in which case
// clean_prompt is not offered.
type Config struct {
	Schema     *schema.Schema
	Retrievers *retriever.Set
	Cleaner    *cleaner.Cleaner
	Match      match.Options
	Method     model.Method
	Version    string
}

// New creates a configured MCP server.
func New(cfg Config) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Method == "" {
		cfg.Method = model.MethodFuzzy
	}

	s := server.NewMCPServer("soccer-rag", ver, server.WithToolCapabilities(false))

	registerListProperties(s, cfg.Schema)
	registerFindMatches(s, cfg)
	if cfg.Cleaner != nil {
		registerCleanPrompt(s, cfg)
	}
	return s
}

// Serve runs the server over stdio until the input closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func methodArg(req mcp.CallToolRequest, def model.Method) model.Method {
	if m, err := req.RequireString("method"); err == nil && m != "" {
		return model.ParseMethod(m)
	}
	return def
}

type propertyView struct {
	Name         string `json:"name"`
	Table        string `json:"table"`
	Column       string `json:"column"`
	HasKey       bool   `json:"has_primary_key"`
	HasAliases   bool   `json:"has_aliases"`
	NumericValue bool   `json:"numeric"`
}

func registerListProperties(s *server.MCPServer, sc *schema.Schema) {
	tool := mcp.NewTool("list_properties",
		mcp.WithDescription("List the soccer properties (players, teams, leagues, seasons, events) that questions are resolved against."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := make([]propertyView, 0, len(sc.Properties))
		for _, p := range sc.Properties {
			out = append(out, propertyView{
				Name:         p.Name,
				Table:        p.DBTable,
				Column:       p.DBColumn,
				HasKey:       p.HasPK(),
				HasAliases:   p.HasAugmentation(),
				NumericValue: p.Numeric,
			})
		}
		return jsonResult(out)
	})
}

func registerFindMatches(s *server.MCPServer, cfg Config) {
	tool := mcp.NewTool("find_matches",
		mcp.WithDescription("Find database values close to a possibly misspelled name, e.g. team_name 'Arsnl'. Returns a resolved value, an ordered candidate list, or nothing."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("property",
			mcp.Required(),
			mcp.Description("Property name as returned by list_properties"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("Value to look up"),
		),
		mcp.WithString("method",
			mcp.Description("Scoring method (default: fuzzy)"),
			mcp.Enum("strict", "fuzzy"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prop, err := req.RequireString("property")
		if err != nil {
			return mcp.NewToolResultError("property is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError("value is required"), nil
		}
		r, ok := cfg.Retrievers.Get(prop)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown property %q", prop)), nil
		}

		res, err := r.FindCloseMatches(ctx, value, methodArg(req, cfg.Method), cfg.Match)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		return jsonResult(res)
	})
}

type cleanView struct {
	AnnotatedPrompt string                   `json:"annotated_prompt"`
	Resolved        model.ResolvedProperties `json:"resolved"`
	PrimaryKeys     model.PrimaryKeyBundle   `json:"primary_keys"`
	Unresolved      []reconcile.Decision     `json:"unresolved,omitempty"`
	Errors          []string                 `json:"errors,omitempty"`
}

func registerCleanPrompt(s *server.MCPServer, cfg Config) {
	tool := mcp.NewTool("clean_prompt",
		mcp.WithDescription("Rewrite a soccer question so player, team and league names match the database. Ambiguous names are left as written and listed under unresolved with their candidates."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The question to clean"),
		),
		mcp.WithString("method",
			mcp.Description("Scoring method (default: fuzzy)"),
			mcp.Enum("strict", "fuzzy"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil || prompt == "" {
			return mcp.NewToolResultError("prompt is required"), nil
		}

		run, err := cfg.Cleaner.CleanNonInteractive(ctx, prompt, methodArg(req, cfg.Method))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("clean failed: %v", err)), nil
		}
		annotated, _ := run.Complete()
		res := run.Result()

		view := cleanView{
			AnnotatedPrompt: annotated,
			Resolved:        res.Resolved,
			PrimaryKeys:     res.PrimaryKeys,
			Unresolved:      res.Unresolved(),
		}
		for _, e := range res.Errors {
			view.Errors = append(view.Errors, e.Error())
		}
		return jsonResult(view)
	})
}
