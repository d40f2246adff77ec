package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/calculator/pkg/tape"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

func newRunCmd() *cobra.Command {
	var failuresOnly bool

	cmd := &cobra.Command{
		Use:   "run [tape.yaml]...",
		Short: "Replay calculator tapes and check their expectations",
		Long: `Replay calculator tapes and check their expectations.

Without arguments every tape in tapes_dir is run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd)

			var tapes []*tape.Tape
			if len(args) == 0 {
				if e.cfg.TapesDir == "" {
					return fmt.Errorf("no tapes given and tapes_dir is not set")
				}
				loaded, err := tape.LoadDir(e.cfg.TapesDir)
				if err != nil {
					return err
				}
				tapes = loaded
			}
			for _, path := range args {
				t, err := tape.ParseFile(path)
				if err != nil {
					return err
				}
				tapes = append(tapes, t)
			}

			opts := tape.Options{History: e.history, MaxDigits: e.cfg.MaxDigits, Logger: e.logger}
			var reports []*tape.Report
			for _, t := range tapes {
				report, err := tape.Run(cmd.Context(), t, opts)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			}

			if !renderReports(cmd.OutOrStdout(), reports, failuresOnly) {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failuresOnly, "failures", false, "only list failed steps")
	return cmd
}

// renderReports prints one row per step and a summary line. It reports
// whether every tape passed.
func renderReports(w io.Writer, reports []*tape.Report, failuresOnly bool) bool {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Tape", "Step", "Input", "Got", "Status"})

	var passed, failed int
	var elapsed time.Duration
	for _, r := range reports {
		passed += r.Passed
		failed += r.Failed
		elapsed += r.Duration
		for _, res := range r.Results {
			if failuresOnly && res.Passed() {
				continue
			}
			status := "PASS"
			if !res.Passed() {
				status = "FAIL: " + res.Failure
			}
			t.AppendRow(table.Row{r.Tape, res.Step.Label(), res.Step.Input(), stepOutput(res), status})
		}
	}
	t.Render()

	_, _ = fmt.Fprintf(w, "%d tapes, %d passed, %d failed (%s)\n", len(reports), passed, failed, elapsed.Round(time.Microsecond))
	return failed == 0
}

func stepOutput(res tape.StepResult) string {
	if res.Step.IsKeys() {
		return res.Display
	}
	if res.Err != nil {
		return types.Kind(res.Err)
	}
	return types.FormatNumber(res.Result)
}
