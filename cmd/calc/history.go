package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/calculator/pkg/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit    int
		kind     string
		source   string
		clearAll bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded calculations, newest first",
		Long: `List recorded calculations, newest first.

History only outlives the process when --history points at a SQLite file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			ctx := cmd.Context()

			if clearAll {
				if err := e.history.Clear(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
				return nil
			}

			entries, err := e.history.List(ctx, store.Filter{Limit: limit, Kind: kind, Source: source})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "(no history)")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Time", "Source", "Expression", "Result"})
			for _, entry := range entries {
				result := entry.Result.String()
				if entry.Failed() {
					result = entry.Kind + ": " + entry.Error
				}
				t.AppendRow(table.Row{
					entry.CreateTime.Local().Format("2006-01-02 15:04:05"),
					entry.Source,
					entry.Expression,
					result,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().StringVar(&kind, "kind", "", "only entries that failed with this error kind")
	cmd.Flags().StringVar(&source, "source", "", "only entries from this source (api, grpc, keypad, tape, cli, web)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete all history")
	return cmd
}
