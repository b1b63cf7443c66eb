package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/games.db", cfg.Database.DSN)
	assert.Equal(t, "conf/schema.yaml", cfg.Schema.Path)
	assert.Equal(t, "fuzzy", cfg.Resolve.Method)
	assert.Equal(t, 3, cfg.Resolve.Limit)
	assert.Equal(t, 80, cfg.Resolve.Threshold)
	assert.Equal(t, 30, cfg.Resolve.LowFloor)
	assert.Equal(t, "first", cfg.Resolve.MultiRowPolicy)
	assert.True(t, cfg.Resolve.OfferReentry)
	assert.False(t, cfg.Resolve.RemoveDuplicates)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.LLM.Breaker.Threshold)
	assert.Equal(t, "conf/sqls.json", cfg.Agent.ExamplesPath)
	assert.Equal(t, 2, cfg.Agent.FewShotK)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 30, cfg.Agent.TopK)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 900, cfg.Server.SessionTTLSecs)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
database:
  driver: postgres
  dsn: postgres://localhost/soccer
resolve:
  method: strict
  multi_row_policy: error
log:
  level: debug
  format: console
server:
  port: 9090
pricing:
  openai:
    my-model:
      input: 1.5
      output: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/soccer", cfg.Database.DSN)
	assert.Equal(t, "strict", cfg.Resolve.Method)
	assert.Equal(t, "error", cfg.Resolve.MultiRowPolicy)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 80, cfg.Resolve.Threshold)

	rates := cfg.Rates()
	assert.InDelta(t, 1.5, rates.OpenAI["my-model"].Input, 1e-9)
	assert.NotEmpty(t, rates.Anthropic, "unconfigured providers use the built-in table")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SOCCER_RAG_STORE_DRIVER", "postgres")
	t.Setenv("SOCCER_RAG_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SOCCER_RAG_SERVER_PORT", "3000")
	t.Setenv("SOCCER_RAG_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Resolve.Method = "fuzzy"
	cfg.Resolve.MultiRowPolicy = "first"
	cfg.Resolve.Threshold = 80
	cfg.Resolve.LowFloor = 30
	cfg.LLM.Provider = "anthropic"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Agent.MaxIterations = 10
	cfg.Agent.TopK = 30
	cfg.Agent.FewShotK = 2
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"match", "values", "history", "clean", "mcp", "ask", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_MissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""

	assert.NoError(t, cfg.Validate("match"), "lookups need no model")
	err := cfg.Validate("clean")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidate_OpenAICompatibleEndpoint(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.Provider = "openai"
	err := cfg.Validate("ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.key is required")

	cfg.OpenAI.BaseURL = "http://localhost:11434/v1"
	assert.NoError(t, cfg.Validate("ask"))
}

func TestValidate_ResolveSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Resolve.Method = "phonetic"
	cfg.Resolve.MultiRowPolicy = "last"
	cfg.Resolve.Threshold = 101
	cfg.Resolve.LowFloor = -1

	err := cfg.Validate("match")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve.method must be strict or fuzzy")
	assert.Contains(t, err.Error(), "resolve.multi_row_policy")
	assert.Contains(t, err.Error(), "resolve.threshold")
	assert.Contains(t, err.Error(), "resolve.low_floor")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_AgentBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Agent.MaxIterations = 0
	cfg.Agent.TopK = 0

	err := cfg.Validate("ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.max_iterations")
	assert.Contains(t, err.Error(), "agent.top_k")
	assert.NoError(t, cfg.Validate("clean"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
