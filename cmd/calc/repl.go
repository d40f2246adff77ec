package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

const replPrompt = "calc> "

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive expression prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd)
		},
	}
}

func runREPL(cmd *cobra.Command) error {
	e := envFrom(cmd)

	historyFile := e.cfg.ReplHistory
	if historyFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			historyFile = filepath.Join(home, ".calc_history")
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    replCompleter,
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	r := newREPL(cmd.Context(), e, cmd.OutOrStdout(), cmd.ErrOrStderr())
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "calc %s\n", version)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .quit to exit")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.handle(line) {
			return nil
		}
	}
}

var replCompleter = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".history"),
	readline.PcItem(".clear"),
	readline.PcItem(".keys"),
	readline.PcItem(".quit"),
)

// repl holds the state of one interactive session: the shared history and
// a keypad driven by .keys.
type repl struct {
	ctx    context.Context
	env    *env
	out    io.Writer
	errOut io.Writer
	calc   *keypad.Calculator
}

func newREPL(ctx context.Context, e *env, out, errOut io.Writer) *repl {
	return &repl{
		ctx:    ctx,
		env:    e,
		out:    out,
		errOut: errOut,
		calc: keypad.New(
			keypad.WithMaxDigits(e.cfg.MaxDigits),
			keypad.WithRecorder(store.Recorder(e.history, store.SourceKeypad, e.logger)),
		),
	}
}

// handle processes one input line and reports whether the session should
// end.
func (r *repl) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ".") {
		return r.dotCommand(line)
	}

	result, err := evaluate(r.ctx, r.env, store.SourceCLI, line)
	if err != nil {
		r.printErr(err)
		return false
	}
	_, _ = fmt.Fprintln(r.out, types.FormatNumber(result))
	return false
}

func (r *repl) dotCommand(line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(r.out)

	case ".history":
		limit := 10
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < 1 {
				_, _ = fmt.Fprintln(r.errOut, "Usage: .history [n]")
				return false
			}
			limit = n
		}
		entries, err := r.env.history.List(r.ctx, store.Filter{Limit: limit})
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		// Oldest first reads naturally at a prompt.
		for i := len(entries) - 1; i >= 0; i-- {
			_, _ = fmt.Fprintln(r.out, describeEntry(entries[i]))
		}

	case ".clear":
		if err := r.env.history.Clear(r.ctx); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		_, _ = fmt.Fprintln(r.out, "History cleared")

	case ".keys":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(r.errOut, "Usage: .keys <sequence>")
			return false
		}
		if err := r.calc.PressAll(strings.Join(parts[1:], "")); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}
		_, _ = fmt.Fprintf(r.out, "[%s]\n", r.calc.Display())

	default:
		_, _ = fmt.Fprintf(r.errOut, "Unknown command %s (try .help)\n", parts[0])
	}
	return false
}

func (r *repl) printErr(err error) {
	_, _ = fmt.Fprintf(r.errOut, "%s: %s\n", types.Kind(err), err)
}

func describeEntry(e store.Entry) string {
	if e.Failed() {
		return fmt.Sprintf("%s -> %s", e.Expression, e.Kind)
	}
	return fmt.Sprintf("%s = %s", e.Expression, e.Result)
}

func printREPLHelp(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Enter an expression to evaluate it left to right, e.g. 2+3*4.

Commands:
  .keys <seq>   press keypad keys (0-9 . + - * / % = C)
  .history [n]  show the last n calculations (default 10)
  .clear        clear the calculation history
  .help         show this help
  .quit         exit`)
}
