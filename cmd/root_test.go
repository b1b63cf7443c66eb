package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simula/soccer-rag/internal/config"
	"github.com/simula/soccer-rag/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"ask", "clean", "match", "values", "history", "serve", "mcp"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "soccer-rag", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Equal(t, version, rootCmd.Version)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"log-level", "database"} {
		require.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root should have --%s", name)
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Cleanup(func() { flagLogLevel, flagDatabase = "", "" })

	c := &config.Config{}
	c.Log.Level = "info"
	c.Database.DSN = "data/games.db"

	applyOverrides(c)
	assert.Equal(t, "info", c.Log.Level, "empty flags change nothing")
	assert.Equal(t, "data/games.db", c.Database.DSN)

	flagLogLevel, flagDatabase = "debug", "/tmp/other.db"
	applyOverrides(c)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "/tmp/other.db", c.Database.DSN)
}

func TestAskCommand_Flags(t *testing.T) {
	for _, name := range []string{"method", "non-interactive", "no-few-shot", "show-sql"} {
		require.NotNil(t, askCmd.Flags().Lookup(name), "ask should have --%s", name)
	}
	assert.Equal(t, "false", askCmd.Flags().Lookup("non-interactive").DefValue)
}

func TestCleanCommand_Flags(t *testing.T) {
	require.NotNil(t, cleanCmd.Flags().Lookup("json"))
	require.NotNil(t, cleanCmd.Flags().Lookup("method"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestHistoryCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range historyCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected history subcommand %q", name)
	}
	assert.Equal(t, "50", historyListCmd.Flags().Lookup("limit").DefValue)
}

func TestFormatMatch(t *testing.T) {
	tests := []struct {
		name string
		res  model.MatchResult
		want string
	}{
		{"resolved", model.Resolved("Arsenal"), "Arsnl -> Arsenal\n"},
		{"candidates", model.Candidates([]string{"Man City", "Man United"}), "Arsnl has 2 candidates:\n  1. Man City\n  2. Man United\n"},
		{"none", model.NoMatch(), "no close match for Arsnl\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			formatMatch(&buf, "Arsnl", tt.res)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
