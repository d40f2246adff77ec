package store

import (
	"context"
	"log/slog"

	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

// Sources recorded on history entries.
const (
	SourceAPI    = "api"
	SourceGRPC   = "grpc"
	SourceKeypad = "keypad"
	SourceTape   = "tape"
	SourceCLI    = "cli"
	SourceWeb    = "web"
)

// NewEntry builds an entry for one evaluation.
func NewEntry(source, expression string, result float64, err error) Entry {
	e := Entry{
		Source:     source,
		Expression: expression,
		Result:     types.Number(result),
	}
	if err != nil {
		e.Error = err.Error()
		e.Kind = types.Kind(err)
	}
	return e
}

type recorder struct {
	h      History
	source string
	logger *slog.Logger
}

// Recorder adapts h to the keypad recorder interface. Entries are tagged
// with source. Storage failures are logged and otherwise ignored.
func Recorder(h History, source string, logger *slog.Logger) keypad.Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &recorder{h: h, source: source, logger: logger}
}

func (r *recorder) Record(expression string, result float64, err error) {
	if _, rerr := r.h.Record(context.Background(), NewEntry(r.source, expression, result, err)); rerr != nil {
		r.logger.Warn("failed to record evaluation", "expression", expression, "error", rerr)
	}
}
