package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/simula/soccer-rag/internal/model"
)

var (
	matchMethod string
	matchJSON   bool
)

var matchCmd = &cobra.Command{
	Use:   "match <property> <value>",
	Short: "Look up database values close to a name",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "match", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		r, ok := e.Retrievers.Get(args[0])
		if !ok {
			return eris.Errorf("unknown property %q (have %s)", args[0], strings.Join(e.Retrievers.Names(), ", "))
		}
		value := strings.Join(args[1:], " ")

		res, err := r.FindCloseMatches(ctx, value, methodOrDefault(cfg, matchMethod), matchOptions(cfg))
		if err != nil {
			return err
		}
		if matchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatMatch(os.Stdout, value, res)
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchMethod, "method", "", "matching method: strict or fuzzy (default from config)")
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(matchCmd)
}

func formatMatch(w io.Writer, value string, res model.MatchResult) {
	switch res.Kind() {
	case model.MatchResolved:
		fmt.Fprintf(w, "%s -> %s\n", value, res.Value())
	case model.MatchCandidates:
		fmt.Fprintf(w, "%s has %d candidates:\n", value, len(res.Values()))
		for i, v := range res.Values() {
			fmt.Fprintf(w, "  %d. %s\n", i+1, v)
		}
	default:
		fmt.Fprintf(w, "no close match for %s\n", value)
	}
}
