package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/cleaner"
	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/extract"
	"github.com/simula/soccer-rag/internal/fixture"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/reconcile"
	"github.com/simula/soccer-rag/internal/retriever"
	"github.com/simula/soccer-rag/internal/schema"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func setupServer(t *testing.T, withCleaner bool) *server.MCPServer {
	t.Helper()
	src, err := datasource.OpenSQLite(context.Background(), fixture.SoccerDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	s, err := schema.Parse([]byte(fixture.SchemaYAML))
	require.NoError(t, err)
	set := retriever.NewSet(s, src)

	cfg := Config{Schema: s, Retrievers: set, Version: "test"}
	if withCleaner {
		ex := extract.Static{
			"Goals for Arsnl and Man?": {{"team_name": {"Arsnl", "Man"}}},
		}
		cfg.Cleaner = cleaner.New(ex, reconcile.New(set, reconcile.Options{}), nil, cleaner.Options{})
	}
	return New(cfg)
}

// callTool invokes a tool through the JSON-RPC handler.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &resp), string(respBytes))
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestListProperties(t *testing.T) {
	srv := setupServer(t, false)

	res := callTool(t, srv, "list_properties", map[string]interface{}{})
	require.False(t, res.IsError)

	var props []propertyView
	require.NoError(t, json.Unmarshal([]byte(getTextContent(t, res)), &props))
	require.Len(t, props, 5)
	assert.Equal(t, "person_name", props[0].Name)
	assert.True(t, props[0].HasKey)
	assert.False(t, props[0].HasAliases)
	assert.Equal(t, "team_name", props[1].Name)
	assert.True(t, props[1].HasAliases)
	assert.Equal(t, "year_season", props[3].Name)
	assert.True(t, props[3].NumericValue)
}

func TestFindMatches(t *testing.T) {
	srv := setupServer(t, false)

	tests := []struct {
		name   string
		args   map[string]interface{}
		kind   string
		values []string
	}{
		{"auto accept", map[string]interface{}{"property": "team_name", "value": "Arsnl"}, "resolved", []string{"Arsenal"}},
		{"tie", map[string]interface{}{"property": "team_name", "value": "Man"}, "candidates", []string{"Man City", "Man United"}},
		{"strict miss", map[string]interface{}{"property": "team_name", "value": "Qwxyz", "method": "strict"}, "none", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, srv, "find_matches", tt.args)
			require.False(t, res.IsError, getTextContent(t, res))

			var got struct {
				Kind   string   `json:"kind"`
				Values []string `json:"values"`
			}
			require.NoError(t, json.Unmarshal([]byte(getTextContent(t, res)), &got))
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.values, got.Values)
		})
	}
}

func TestFindMatches_Errors(t *testing.T) {
	srv := setupServer(t, false)

	res := callTool(t, srv, "find_matches", map[string]interface{}{"property": "stadium", "value": "x"})
	assert.True(t, res.IsError)
	assert.Contains(t, getTextContent(t, res), "unknown property")

	res = callTool(t, srv, "find_matches", map[string]interface{}{"property": "team_name"})
	assert.True(t, res.IsError)
	assert.Contains(t, getTextContent(t, res), "value is required")
}

func TestCleanPrompt(t *testing.T) {
	srv := setupServer(t, true)

	res := callTool(t, srv, "clean_prompt", map[string]interface{}{"prompt": "Goals for Arsnl and Man?"})
	require.False(t, res.IsError, getTextContent(t, res))

	var got cleanView
	require.NoError(t, json.Unmarshal([]byte(getTextContent(t, res)), &got))
	assert.Equal(t, []string{"Arsenal", "Man"}, got.Resolved["team_name"])
	assert.Contains(t, got.AnnotatedPrompt, "Arsnl (now referred to as Arsenal) has a primary key: 7.")
	require.Len(t, got.Unresolved, 1)
	assert.Equal(t, "Man", got.Unresolved[0].Original)
	assert.Equal(t, reconcile.OutcomeUnresolved, got.Unresolved[0].Outcome)
	assert.Equal(t, []string{"Man City", "Man United"}, got.Unresolved[0].Candidates)
	assert.Equal(t, model.StringPtr("7"), got.PrimaryKeys.Get("team_name", 0))
}

func TestCleanPrompt_NotRegisteredWithoutCleaner(t *testing.T) {
	srv := setupServer(t, false)

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]interface{}{"name": "clean_prompt", "arguments": map[string]interface{}{"prompt": "x"}},
	}))
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error"`)
}
