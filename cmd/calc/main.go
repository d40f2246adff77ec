// Package main is the calc command: a left-to-right calculator with a
// keypad TUI, a REPL, tape runner and an HTTP/gRPC server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lemonberrylabs/calculator/pkg/config"
	"github.com/lemonberrylabs/calculator/pkg/expr"
	"github.com/lemonberrylabs/calculator/pkg/logging"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errFailed is returned when some evaluation or tape failed. The details
// have already been printed.
var errFailed = errors.New("one or more calculations failed")

// env is what every subcommand gets after the root command has loaded
// configuration.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	history store.History
	closer  func() error
}

type envKey struct{}

func main() {
	if err := execute(newRootCmd()); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "calc",
		Short: "Left-to-right calculator",
		Long: `calc evaluates arithmetic expressions strictly left to right:
"2+3*4" is 20, not 14.

Without a subcommand calc opens the keypad TUI when stdin is a terminal,
and otherwise evaluates one expression per input line.`,
		Version:           version + " (commit=" + commit + ", built=" + date + ")",
		PersistentPreRunE: setup,
		RunE:              runDefault,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	rootCmd.SetVersionTemplate("calc version {{.Version}}\n")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newEvalCmd(),
		newTokenizeCmd(),
		newReplCmd(),
		newTUICmd(),
		newRunCmd(),
		newHistoryCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// execute runs the root command and releases whatever setup opened.
func execute(root *cobra.Command) error {
	cmd, err := root.ExecuteC()
	if e := envFrom(cmd); e != nil && e.closer != nil {
		if cerr := e.closer(); err == nil {
			err = cerr
		}
	}
	return err
}

// setup loads configuration, builds the logger and opens the history store.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == cobra.ShellCompRequestCmd {
		return nil
	}

	flags := cmd.Root().PersistentFlags()
	cfgFile, _ := flags.GetString("config")
	cfg, err := config.Load(cfgFile, flags)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cfg.File != "" {
		logger.Debug("loaded config file", "path", cfg.File)
	}

	e := &env{cfg: cfg, logger: logger}
	if cfg.History != "" {
		db, err := store.OpenSQLite(cfg.History)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		e.history = db
		e.closer = db.Close
	} else {
		e.history = store.NewMemory()
	}

	cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, e))
	return nil
}

func envFrom(cmd *cobra.Command) *env {
	if cmd == nil || cmd.Context() == nil {
		return nil
	}
	e, _ := cmd.Context().Value(envKey{}).(*env)
	return e
}

// runDefault opens the TUI on a terminal and evaluates lines otherwise.
func runDefault(cmd *cobra.Command, _ []string) error {
	if isTerminal(cmd.InOrStdin()) {
		return runTUI(cmd)
	}
	return evalLines(cmd, cmd.InOrStdin())
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// evaluate runs one expression and records it.
func evaluate(ctx context.Context, e *env, source, expression string) (float64, error) {
	result, err := expr.Evaluate(expression)
	if _, rerr := e.history.Record(ctx, store.NewEntry(source, expression, result, err)); rerr != nil {
		e.logger.Warn("failed to record history", "expression", expression, "error", rerr)
	}
	return result, err
}

// evalLines evaluates every non-blank line of r. Each result or error is
// printed on its own line.
func evalLines(cmd *cobra.Command, r io.Reader) error {
	e := envFrom(cmd)
	out := cmd.OutOrStdout()
	failed := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		result, err := evaluate(cmd.Context(), e, store.SourceCLI, line)
		if err != nil {
			failed = true
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", types.Kind(err), err)
			continue
		}
		_, _ = fmt.Fprintln(out, types.FormatNumber(result))
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed {
		return errFailed
	}
	return nil
}
