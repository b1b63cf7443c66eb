package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/agent"
)

var (
	askMethod         string
	askNonInteractive bool
	askNoFewShot      bool
	askShowSQL        bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question about soccer games",
	Long:  "Cleans the question against the database, then lets the SQL agent query the games database and answer.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "ask", envOptions{NoFewShot: askNoFewShot})
		if err != nil {
			return err
		}
		defer e.Close()

		question := strings.Join(args, " ")
		run, err := cleanQuestion(ctx, e.Cleaner, question, methodOrDefault(cfg, askMethod), askNonInteractive, os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
		prompt, err := run.Complete()
		if err != nil {
			return err
		}
		if prompt != question {
			fmt.Fprintf(os.Stderr, "\n%s\n\n", prompt)
		}

		ans, err := e.Cleaner.Answer(ctx, run, e.Agent)
		if askShowSQL && ans != nil {
			for _, q := range ans.Queries {
				fmt.Fprintf(os.Stderr, "SQL: %s\n", q)
			}
		}
		if err != nil {
			if errors.Is(err, agent.ErrNoAnswer) {
				return eris.New("no answer within the iteration limit")
			}
			return err
		}

		rec := run.Record()
		zap.L().Info("question answered",
			zap.String("id", rec.ID),
			zap.Int("queries", len(ans.Queries)),
			zap.Int64("input_tokens", ans.Usage.Input),
			zap.Int64("output_tokens", ans.Usage.Output),
			zap.Float64("cost_usd", rec.CostUSD),
		)
		fmt.Fprintln(os.Stdout, ans.Text)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askMethod, "method", "", "matching method: strict or fuzzy (default from config)")
	askCmd.Flags().BoolVar(&askNonInteractive, "non-interactive", false, "never ask; ambiguous names keep their original form")
	askCmd.Flags().BoolVar(&askNoFewShot, "no-few-shot", false, "leave example queries out of the agent prompt")
	askCmd.Flags().BoolVar(&askShowSQL, "show-sql", false, "print the SQL the agent ran")
	rootCmd.AddCommand(askCmd)
}
