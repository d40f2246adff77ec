package tape

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval is how long the watcher waits after the last change to a
// tape before running it.
const DebounceInterval = 100 * time.Millisecond

// Watcher re-runs tapes in a directory whenever they are created or written.
type Watcher struct {
	dir      string
	opts     Options
	logger   *slog.Logger
	onReport func(*Report)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher for dir. onReport, if non-nil, receives the
// report of every run.
func NewWatcher(dir string, opts Options, onReport func(*Report)) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		opts:     opts,
		logger:   logger,
		onReport: onReport,
		timers:   make(map[string]*time.Timer),
	}
}

// RunAll runs every tape currently in the directory.
func (w *Watcher) RunAll(ctx context.Context) error {
	tapes, err := LoadDir(w.dir)
	if err != nil {
		return err
	}
	for _, t := range tapes {
		if err := w.run(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Watch runs every tape once, then watches the directory until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch tapes dir: %w", err)
	}
	if err := w.RunAll(ctx); err != nil {
		w.logger.Warn("initial tape run failed", "dir", w.dir, "error", err)
	}

	w.logger.Info("watching tapes", "dir", w.dir)
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !IsTapeFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// schedule debounces runs of a single tape file.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(DebounceInterval, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		t, err := ParseFile(path)
		if err != nil {
			w.logger.Warn("failed to load tape", "path", path, "error", err)
			return
		}
		if err := w.run(ctx, t); err != nil {
			w.logger.Debug("tape run stopped", "path", path, "error", err)
		}
	})
}

func (w *Watcher) run(ctx context.Context, t *Tape) error {
	report, err := Run(ctx, t, w.opts)
	if err != nil {
		return err
	}
	if !report.OK() {
		for _, f := range report.Failures() {
			w.logger.Warn("tape step failed", "tape", t.Name, "step", f.Step.Label(), "input", f.Step.Input(), "failure", f.Failure)
		}
	}
	if w.onReport != nil {
		w.onReport(report)
	}
	return nil
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}
