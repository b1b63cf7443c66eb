package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/cleaner"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/reconcile"
)

var (
	cleanMethod         string
	cleanNonInteractive bool
	cleanJSON           bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean <question>",
	Short: "Rewrite a question so its names match the database",
	Long:  "Extracts properties from the question, resolves each against the database (asking on the terminal when several values fit) and prints the annotated prompt.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "clean", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		question := strings.Join(args, " ")
		run, err := cleanQuestion(ctx, e.Cleaner, question, methodOrDefault(cfg, cleanMethod), cleanNonInteractive, os.Stdin, os.Stderr)
		if err != nil {
			return err
		}

		if cleanJSON {
			return writeCleanJSON(os.Stdout, run)
		}
		prompt, err := run.Complete()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, prompt)
		return nil
	},
}

func init() {
	cleanCmd.Flags().StringVar(&cleanMethod, "method", "", "matching method: strict or fuzzy (default from config)")
	cleanCmd.Flags().BoolVar(&cleanNonInteractive, "non-interactive", false, "never ask; ambiguous names keep their original form")
	cleanCmd.Flags().BoolVar(&cleanJSON, "json", false, "print resolved properties and primary keys as JSON")
	rootCmd.AddCommand(cleanCmd)
}

// cleanQuestion resolves question either silently or by asking on in/out.
func cleanQuestion(ctx context.Context, c *cleaner.Cleaner, question string, method model.Method, nonInteractive bool, in io.Reader, out io.Writer) (*cleaner.Run, error) {
	var (
		run *cleaner.Run
		err error
	)
	if nonInteractive {
		run, err = c.CleanNonInteractive(ctx, question, method)
	} else {
		run, err = c.Clean(ctx, question, method, reconcile.NewConsole(in, out))
	}
	if err != nil {
		return nil, eris.Wrap(err, "clean question")
	}

	rec := run.Record()
	zap.L().Info("question cleaned",
		zap.String("id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Float64("cost_usd", rec.CostUSD),
	)
	if res := run.Result(); res != nil {
		for _, e := range res.Errors {
			zap.L().Warn("property skipped", zap.Error(e))
		}
	}
	return run, nil
}

type cleanOutput struct {
	ID              string                   `json:"id"`
	Prompt          string                   `json:"prompt"`
	AnnotatedPrompt string                   `json:"annotated_prompt"`
	Resolved        model.ResolvedProperties `json:"resolved"`
	PrimaryKeys     model.PrimaryKeyBundle   `json:"primary_keys"`
	Decisions       []reconcile.Decision     `json:"decisions"`
	CostUSD         float64                  `json:"cost_usd"`
}

func writeCleanJSON(w io.Writer, run *cleaner.Run) error {
	rec := run.Record()
	out := cleanOutput{
		ID:              rec.ID,
		Prompt:          rec.Prompt,
		AnnotatedPrompt: rec.AnnotatedPrompt,
		Resolved:        rec.Resolved,
		PrimaryKeys:     rec.PrimaryKeys,
		CostUSD:         rec.CostUSD,
	}
	if res := run.Result(); res != nil {
		out.Resolved = res.Resolved
		out.PrimaryKeys = res.PrimaryKeys
		out.Decisions = res.Decisions
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
