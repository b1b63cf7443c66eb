package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/mcpserver"
	"github.com/simula/soccer-rag/internal/model"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve property lookup and prompt cleaning as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "mcp", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		s := mcpserver.New(mcpserver.Config{
			Schema:     e.Schema,
			Retrievers: e.Retrievers,
			Cleaner:    e.Cleaner,
			Match:      matchOptions(cfg),
			Method:     model.ParseMethod(cfg.Resolve.Method),
			Version:    version,
		})

		// stdout carries the protocol; logs go to stderr via zap.
		zap.L().Info("mcp server ready", zap.Strings("properties", e.Retrievers.Names()))
		return mcpserver.Serve(s)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
