package tape

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/lemonberrylabs/calculator/pkg/expr"
	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

// Tolerance is the relative tolerance used when comparing numeric results.
const Tolerance = 1e-9

// Options configures a run.
type Options struct {
	History   store.History // optional
	MaxDigits int           // keypad digit limit, 0 for the default
	Logger    *slog.Logger
}

// StepResult is the outcome of a single step.
type StepResult struct {
	Step    *Step
	Result  float64
	Display string
	Err     error  // evaluation error, if any
	Failure string // empty when the step passed
}

// Passed reports whether every expectation of the step held.
func (r StepResult) Passed() bool {
	return r.Failure == ""
}

// Report summarizes a tape run.
type Report struct {
	Tape     string
	Path     string
	Results  []StepResult
	Passed   int
	Failed   int
	Duration time.Duration
}

// OK reports whether every step passed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

// Failures returns the results of failed steps.
func (r *Report) Failures() []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}

// Run replays every step of t. Keys steps share one keypad calculator for
// the whole tape. Steps that fail their expectations are reported, not
// returned as errors; the error return is reserved for cancellation.
func Run(ctx context.Context, t *Tape, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var kopts []keypad.Option
	if opts.MaxDigits > 0 {
		kopts = append(kopts, keypad.WithMaxDigits(opts.MaxDigits))
	}
	if opts.History != nil {
		kopts = append(kopts, keypad.WithRecorder(store.Recorder(opts.History, store.SourceTape, logger)))
	}
	calc := keypad.New(kopts...)

	start := time.Now()
	report := &Report{Tape: t.Name, Path: t.Path}
	for _, step := range t.Steps {
		select {
		case <-ctx.Done():
			report.Duration = time.Since(start)
			return report, ctx.Err()
		default:
		}

		var res StepResult
		if step.IsKeys() {
			res = runKeys(calc, step)
		} else {
			res = runExpr(ctx, step, opts.History, logger)
		}

		if res.Passed() {
			report.Passed++
		} else {
			report.Failed++
			logger.Debug("tape step failed", "tape", t.Name, "step", step.Label(), "failure", res.Failure)
		}
		report.Results = append(report.Results, res)
	}
	report.Duration = time.Since(start)

	logger.Info("tape finished", "tape", t.Name, "passed", report.Passed, "failed", report.Failed, "duration", report.Duration)
	return report, nil
}

func runExpr(ctx context.Context, step *Step, h store.History, logger *slog.Logger) StepResult {
	result, err := expr.Evaluate(step.Expr)
	if h != nil {
		if _, rerr := h.Record(ctx, store.NewEntry(store.SourceTape, step.Expr, result, err)); rerr != nil {
			logger.Warn("failed to record evaluation", "expression", step.Expr, "error", rerr)
		}
	}

	res := StepResult{Step: step, Result: result, Err: err}
	if err == nil {
		res.Display = types.FormatNumber(result)
	}

	switch {
	case step.Error != "":
		if kind := types.Kind(err); kind != step.Error {
			res.Failure = fmt.Sprintf("want %s, got %s", step.Error, describe(result, err))
		}
	case err != nil:
		res.Failure = fmt.Sprintf("unexpected %s", types.Kind(err))
	case step.Want != nil && !approxEqual(result, *step.Want):
		res.Failure = fmt.Sprintf("want %s, got %s", types.FormatNumber(*step.Want), types.FormatNumber(result))
	case step.Display != nil && res.Display != *step.Display:
		res.Failure = fmt.Sprintf("want display %q, got %q", *step.Display, res.Display)
	}
	return res
}

func runKeys(calc *keypad.Calculator, step *Step) StepResult {
	res := StepResult{Step: step}
	if err := calc.PressAll(step.Keys); err != nil {
		res.Err = err
		res.Failure = err.Error()
		return res
	}
	res.Display = calc.Display()
	res.Result = float64(calc.Snapshot().Total)

	switch {
	case step.Error != "":
		if want := errorDisplay(step.Error); res.Display != want {
			res.Failure = fmt.Sprintf("want display %q, got %q", want, res.Display)
		}
	case calc.IsError():
		res.Failure = fmt.Sprintf("unexpected %q", res.Display)
	case step.Want != nil:
		got, err := strconv.ParseFloat(res.Display, 64)
		if err != nil || !approxEqual(got, *step.Want) {
			res.Failure = fmt.Sprintf("want %s, got display %q", types.FormatNumber(*step.Want), res.Display)
		} else {
			res.Result = got
		}
	}
	if res.Failure == "" && step.Display != nil && res.Display != *step.Display {
		res.Failure = fmt.Sprintf("want display %q, got %q", *step.Display, res.Display)
	}
	return res
}

// errorDisplay maps an error tag to the keypad text shown for it.
func errorDisplay(tag string) string {
	if tag == types.TagZeroDivisionError {
		return keypad.DisplayDivByZero
	}
	return keypad.DisplayInvalid
}

func describe(result float64, err error) string {
	if err != nil {
		return types.Kind(err)
	}
	return types.FormatNumber(result)
}

func approxEqual(got, want float64) bool {
	if math.IsInf(want, 0) || math.IsInf(got, 0) {
		return got == want
	}
	diff := math.Abs(got - want)
	return diff <= Tolerance*math.Max(1, math.Max(math.Abs(got), math.Abs(want)))
}
