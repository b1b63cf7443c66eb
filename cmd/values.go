package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	valuesLimit int
	valuesCount bool
)

var valuesCmd = &cobra.Command{
	Use:   "values <property>",
	Short: "List the known values of a property",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, cfg, "values", envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		r, ok := e.Retrievers.Get(args[0])
		if !ok {
			return eris.Errorf("unknown property %q", args[0])
		}
		known, err := r.KnownValues(ctx)
		if err != nil {
			return err
		}

		if valuesCount {
			fmt.Fprintln(os.Stdout, len(known))
			return nil
		}
		shown := known
		if valuesLimit > 0 && len(shown) > valuesLimit {
			shown = shown[:valuesLimit]
		}
		for _, v := range shown {
			fmt.Fprintln(os.Stdout, v)
		}
		if len(shown) < len(known) {
			fmt.Fprintf(os.Stderr, "(%d of %d values shown)\n", len(shown), len(known))
		}
		return nil
	},
}

func init() {
	valuesCmd.Flags().IntVar(&valuesLimit, "limit", 0, "max values to print (0 for all)")
	valuesCmd.Flags().BoolVar(&valuesCount, "count", false, "print only the number of values")
	rootCmd.AddCommand(valuesCmd)
}
