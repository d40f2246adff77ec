package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/calculator/pkg/expr"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

func newEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval <expression>...",
		Short: "Evaluate expressions left to right",
		Example: `  calc eval "2+3*4"
  calc eval 10/4 "5 - -3"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd)
			failed := false
			for _, arg := range args {
				result, err := evaluate(cmd.Context(), e, store.SourceCLI, arg)
				if err != nil {
					failed = true
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", types.Kind(err), err)
					continue
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), types.FormatNumber(result))
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}
}

func newTokenizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokenize <expression>",
		Short: "Show the tokens of an expression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := expr.Tokenize(strings.Join(args, " "))
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "Type", "Value", "Pos"})
			for i, tok := range tokens {
				t.AppendRow(table.Row{i, tok.Type.String(), tok.Value, tok.Pos})
			}
			t.Render()
			return nil
		},
	}
}
