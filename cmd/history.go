package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past questions",
	Long:  "Commands for listing, viewing, and summarizing recorded questions.",
}

// -- history list --

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent questions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "history", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		status, _ := cmd.Flags().GetString("status")
		method, _ := cmd.Flags().GetString("method")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		queries, err := e.Store.ListQueries(ctx, store.QueryFilter{
			Status: model.QueryStatus(status),
			Method: model.Method(method),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "history list")
		}

		if len(queries) == 0 {
			fmt.Fprintln(os.Stderr, "No questions found.")
			return nil
		}

		formatHistoryList(os.Stdout, queries)
		return nil
	},
}

// -- history show --

var historyShowCmd = &cobra.Command{
	Use:   "show <query-id>",
	Short: "Show full details of a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "history", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		q, err := e.Store.GetQuery(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	},
}

// -- history stats --

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate question statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "history", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		queries, err := e.Store.ListQueries(ctx, store.QueryFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "history stats")
		}

		formatHistoryStats(os.Stdout, computeHistoryStats(queries))
		return nil
	},
}

func init() {
	historyListCmd.Flags().String("status", "", "filter by status (empty, resolved, answered, failed)")
	historyListCmd.Flags().String("method", "", "filter by matching method (strict, fuzzy)")
	historyListCmd.Flags().Int("limit", 50, "max number of questions to display")
	historyListCmd.Flags().Int("offset", 0, "skip this many of the most recent questions")

	historyStatsCmd.Flags().Int("limit", 10000, "number of recent questions to include")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
	rootCmd.AddCommand(historyCmd)
}

// historyStats holds aggregate statistics over recorded questions.
type historyStats struct {
	Total    int
	Empty    int
	Resolved int
	Answered int
	Failed   int
	CostUSD  float64
}

func computeHistoryStats(queries []model.QueryRecord) historyStats {
	var s historyStats
	s.Total = len(queries)
	for _, q := range queries {
		switch q.Status {
		case model.QueryStatusEmpty:
			s.Empty++
		case model.QueryStatusResolved:
			s.Resolved++
		case model.QueryStatusAnswered:
			s.Answered++
		case model.QueryStatusFailed:
			s.Failed++
		}
		s.CostUSD += q.CostUSD
	}
	return s
}

// formatHistoryList writes a tabular list of questions to w.
func formatHistoryList(out io.Writer, queries []model.QueryRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tMETHOD\tCOST\tCREATED\tPROMPT")
	for _, q := range queries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\t%s\n",
			q.ID,
			q.Status,
			q.Method,
			q.CostUSD,
			q.CreatedAt.Format("2006-01-02 15:04"),
			truncate(q.Prompt, 60),
		)
	}
	_ = w.Flush()
}

func formatHistoryStats(out io.Writer, s historyStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Answered:\t%d\n", s.Answered)
	_, _ = fmt.Fprintf(w, "Resolved:\t%d\n", s.Resolved)
	_, _ = fmt.Fprintf(w, "Nothing extracted:\t%d\n", s.Empty)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)
	_ = w.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
