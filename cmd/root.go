package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/config"
)

var version = "dev"

var cfg *config.Config

// Persistent overrides, applied on top of config.yaml and SOCCER_RAG_* vars.
var (
	flagLogLevel string
	flagDatabase string
)

var rootCmd = &cobra.Command{
	Use:     "soccer-rag",
	Version: version,
	Short:   "Ask questions about soccer games in plain English",
	Long: `Extracts player, team, league and event names from a question, matches
them against the known values in the game database, asks you to pick when a
name is ambiguous, and annotates the question with canonical names and
primary keys before an SQL agent answers it.

Property tables and columns come from the schema file (schema.path). The
games database is opened read-only.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyOverrides(c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("database_driver", cfg.Database.Driver),
			zap.String("schema", cfg.Schema.Path),
			zap.String("method", cfg.Resolve.Method),
			zap.String("llm_provider", cfg.LLM.Provider),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// applyOverrides copies non-empty persistent flags into c.
func applyOverrides(c *config.Config) {
	if flagLogLevel != "" {
		c.Log.Level = flagLogLevel
	}
	if flagDatabase != "" {
		c.Database.DSN = flagDatabase
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "database", "", "override database.dsn for the games database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
