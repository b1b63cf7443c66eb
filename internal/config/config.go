package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simula/soccer-rag/internal/cost"
	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Database  datasource.Config `yaml:"database" mapstructure:"database"`
	Schema    SchemaConfig      `yaml:"schema" mapstructure:"schema"`
	Resolve   ResolveConfig     `yaml:"resolve" mapstructure:"resolve"`
	LLM       LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Anthropic AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Agent     AgentConfig       `yaml:"agent" mapstructure:"agent"`
	Store     store.Config      `yaml:"store" mapstructure:"store"`
	Server    ServerConfig      `yaml:"server" mapstructure:"server"`
	Log       LogConfig         `yaml:"log" mapstructure:"log"`
	Pricing   cost.Rates        `yaml:"pricing" mapstructure:"pricing"`
}

// SchemaConfig locates the property schema file.
type SchemaConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ResolveConfig tunes matching and disambiguation.
type ResolveConfig struct {
	Method           string `yaml:"method" mapstructure:"method"`
	Limit            int    `yaml:"limit" mapstructure:"limit"`
	Threshold        int    `yaml:"threshold" mapstructure:"threshold"`
	LowFloor         int    `yaml:"low_floor" mapstructure:"low_floor"`
	MultiRowPolicy   string `yaml:"multi_row_policy" mapstructure:"multi_row_policy"`
	RemoveDuplicates bool   `yaml:"remove_duplicates" mapstructure:"remove_duplicates"`
	OfferReentry     bool   `yaml:"offer_reentry" mapstructure:"offer_reentry"`
	WarmConcurrency  int    `yaml:"warm_concurrency" mapstructure:"warm_concurrency"`
}

// LLMConfig selects the model provider and guards calls to it.
type LLMConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"`
	Model             string        `yaml:"model" mapstructure:"model"`
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	ExtractPrompt     string        `yaml:"extract_prompt" mapstructure:"extract_prompt"`
	Retry             RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker           BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// RetryConfig configures backoff on transient provider errors.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialWaitMs int `yaml:"initial_wait_ms" mapstructure:"initial_wait_ms"`
	MaxWaitMs     int `yaml:"max_wait_ms" mapstructure:"max_wait_ms"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	Threshold    int `yaml:"threshold" mapstructure:"threshold"`
	CooldownSecs int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds settings for OpenAI or a compatible endpoint.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AgentConfig configures the SQL answering agent.
type AgentConfig struct {
	ExamplesPath  string `yaml:"examples_path" mapstructure:"examples_path"`
	FewShotK      int    `yaml:"few_shot_k" mapstructure:"few_shot_k"`
	MaxIterations int    `yaml:"max_iterations" mapstructure:"max_iterations"`
	TopK          int    `yaml:"top_k" mapstructure:"top_k"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	SessionTTLSecs int      `yaml:"session_ttl_secs" mapstructure:"session_ttl_secs"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Rates returns the configured prices, falling back to the built-in table
// for providers with none configured.
func (c *Config) Rates() cost.Rates {
	r := c.Pricing
	def := cost.DefaultRates()
	if len(r.Anthropic) == 0 {
		r.Anthropic = def.Anthropic
	}
	if len(r.OpenAI) == 0 {
		r.OpenAI = def.OpenAI
	}
	return r
}

// Validate checks the settings the given command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Resolve.Method {
	case "strict", "fuzzy":
	default:
		errs = append(errs, "resolve.method must be strict or fuzzy")
	}
	switch c.Resolve.MultiRowPolicy {
	case "first", "error":
	default:
		errs = append(errs, "resolve.multi_row_policy must be first or error")
	}
	if c.Resolve.Threshold < 1 || c.Resolve.Threshold > 100 {
		errs = append(errs, "resolve.threshold must be between 1 and 100")
	}
	if c.Resolve.LowFloor < 0 || c.Resolve.LowFloor > c.Resolve.Threshold {
		errs = append(errs, "resolve.low_floor must be between 0 and resolve.threshold")
	}

	needsLLM := false
	switch mode {
	case "match", "values", "history":
	case "clean", "mcp":
		needsLLM = true
	case "ask":
		needsLLM = true
		errs = append(errs, c.validateAgent()...)
	case "serve":
		needsLLM = true
		errs = append(errs, c.validateAgent()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsLLM {
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "openai":
			// Compatible local endpoints often need no key.
			if c.OpenAI.Key == "" && c.OpenAI.BaseURL == "" {
				errs = append(errs, "openai.key is required")
			}
		default:
			errs = append(errs, "llm.provider must be anthropic or openai")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAgent() []string {
	var errs []string
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, "agent.max_iterations must be > 0")
	}
	if c.Agent.TopK <= 0 {
		errs = append(errs, "agent.top_k must be > 0")
	}
	if c.Agent.FewShotK < 0 {
		errs = append(errs, "agent.few_shot_k must be >= 0")
	}
	return errs
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOCCER_RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/games.db")
	v.SetDefault("schema.path", "conf/schema.yaml")
	v.SetDefault("resolve.method", "fuzzy")
	v.SetDefault("resolve.limit", 3)
	v.SetDefault("resolve.threshold", 80)
	v.SetDefault("resolve.low_floor", 30)
	v.SetDefault("resolve.multi_row_policy", "first")
	v.SetDefault("resolve.remove_duplicates", false)
	v.SetDefault("resolve.offer_reentry", true)
	v.SetDefault("resolve.warm_concurrency", 4)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0)
	v.SetDefault("llm.requests_per_second", 2)
	v.SetDefault("llm.burst", 2)
	v.SetDefault("llm.retry.max_attempts", 3)
	v.SetDefault("llm.retry.initial_wait_ms", 500)
	v.SetDefault("llm.retry.max_wait_ms", 10000)
	v.SetDefault("llm.breaker.threshold", 5)
	v.SetDefault("llm.breaker.cooldown_secs", 30)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("agent.examples_path", "conf/sqls.json")
	v.SetDefault("agent.few_shot_k", 2)
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.top_k", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "soccer-rag.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.session_ttl_secs", 900)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
