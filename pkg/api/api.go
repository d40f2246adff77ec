// Package api implements the calculator's REST API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lemonberrylabs/calculator/pkg/expr"
	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/tape"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

// MaxHistoryLimit caps the number of entries one history listing returns.
const MaxHistoryLimit = 1000

// Server is the calculator API server.
type Server struct {
	app       *fiber.App
	sessions  *store.Memory
	history   store.History
	maxDigits int
	logger    *slog.Logger

	mu      sync.RWMutex
	reports map[string]*tape.Report // latest watcher report per tape
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request logs and handler warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxDigits sets the digit limit of keypad sessions.
func WithMaxDigits(n int) Option {
	return func(s *Server) { s.maxDigits = n }
}

// New creates a new API server. Sessions live in sessions; every evaluation
// is recorded to history.
func New(sessions *store.Memory, history store.History, opts ...Option) *Server {
	srv := &Server{
		sessions:  sessions,
		history:   history,
		maxDigits: keypad.DefaultMaxDigits,
		logger:    slog.Default(),
		reports:   make(map[string]*tape.Report),
	}
	for _, opt := range opts {
		opt(srv)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${status} ${method} ${path} ${latency}\n",
		Output: logWriter{srv.logger},
	}))

	app.Get("/healthz", srv.health)

	// Engine
	app.Post("/v1/evaluate", srv.evaluate)
	app.Post("/v1/tokenize", srv.tokenize)

	// Keypad sessions
	app.Post("/v1/sessions", srv.createSession)
	app.Get("/v1/sessions", srv.listSessions)
	app.Get("/v1/sessions/:id", srv.getSession)
	app.Post("/v1/sessions/:id/keys", srv.pressKeys)
	app.Delete("/v1/sessions/:id", srv.deleteSession)

	// History
	app.Get("/v1/history", srv.listHistory)
	app.Get("/v1/history/:id", srv.getHistoryEntry)
	app.Delete("/v1/history", srv.clearHistory)

	// Tapes
	app.Post("/v1/tapes\\:run", srv.runTape)
	app.Get("/v1/tapes/reports", srv.listReports)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// Sessions returns the session store.
func (s *Server) Sessions() *store.Memory {
	return s.sessions
}

// History returns the history store.
func (s *Server) History() store.History {
	return s.history
}

// NewCalculator returns a keypad calculator recording to the server's
// history under source.
func (s *Server) NewCalculator(state keypad.State, source string) *keypad.Calculator {
	return keypad.Restore(state,
		keypad.WithMaxDigits(s.maxDigits),
		keypad.WithRecorder(store.Recorder(s.history, source, s.logger)),
	)
}

// RecordReport keeps the latest report of a tape run, typically from the
// tape watcher.
func (s *Server) RecordReport(r *tape.Report) {
	key := r.Path
	if key == "" {
		key = r.Tape
	}
	s.mu.Lock()
	s.reports[key] = r
	s.mu.Unlock()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// --- Engine Handlers ---

type expressionRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var req expressionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	result, err := expr.Evaluate(req.Expression)
	if _, rerr := s.history.Record(c.UserContext(), store.NewEntry(store.SourceAPI, req.Expression, result, err)); rerr != nil {
		s.logger.Warn("failed to record evaluation", "expression", req.Expression, "error", rerr)
	}
	if err != nil {
		return calcError(c, err)
	}

	return c.JSON(fiber.Map{
		"expression": req.Expression,
		"result":     types.Number(result),
		"display":    types.FormatNumber(result),
	})
}

func (s *Server) tokenize(c *fiber.Ctx) error {
	var req expressionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	tokens, err := expr.Tokenize(req.Expression)
	if err != nil {
		return calcError(c, err)
	}

	items := make([]fiber.Map, len(tokens))
	for i, tok := range tokens {
		items[i] = fiber.Map{
			"type":  tok.Type.String(),
			"value": tok.Value,
			"pos":   tok.Pos,
		}
	}
	return c.JSON(fiber.Map{"tokens": items})
}

// --- Session Handlers ---

type keysRequest struct {
	Keys string `json:"keys"`
}

func (s *Server) createSession(c *fiber.Ctx) error {
	var req keysRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	calc := s.NewCalculator(keypad.New().Snapshot(), store.SourceKeypad)
	if err := calc.PressAll(req.Keys); err != nil {
		return badRequest(c, err.Error())
	}

	sess := s.sessions.CreateSession(calc.Snapshot())
	return c.Status(fiber.StatusCreated).JSON(sessionToJSON(sess))
}

func (s *Server) listSessions(c *fiber.Ctx) error {
	sessions := s.sessions.ListSessions()

	items := make([]fiber.Map, len(sessions))
	for i, sess := range sessions {
		items[i] = sessionToJSON(sess)
	}
	return c.JSON(fiber.Map{"sessions": items})
}

func (s *Server) getSession(c *fiber.Ctx) error {
	sess, err := s.sessions.GetSession(c.Params("id"))
	if err != nil {
		return notFound(c, err)
	}
	return c.JSON(sessionToJSON(sess))
}

func (s *Server) pressKeys(c *fiber.Ctx) error {
	var req keysRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	sess, err := s.PressKeys(c.Params("id"), req.Keys, store.SourceKeypad)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, err)
		}
		return badRequest(c, err.Error())
	}
	return c.JSON(sessionToJSON(sess))
}

// PressKeys presses keys on a stored session. The session is left unchanged
// when a key is rejected.
func (s *Server) PressKeys(id, keys, source string) (*store.Session, error) {
	return s.sessions.UpdateSession(id, func(st *keypad.State) error {
		calc := s.NewCalculator(*st, source)
		if err := calc.PressAll(keys); err != nil {
			return err
		}
		*st = calc.Snapshot()
		return nil
	})
}

func (s *Server) deleteSession(c *fiber.Ctx) error {
	if err := s.sessions.DeleteSession(c.Params("id")); err != nil {
		return notFound(c, err)
	}
	return c.JSON(fiber.Map{})
}

// --- History Handlers ---

func (s *Server) listHistory(c *fiber.Ctx) error {
	f := store.Filter{
		Kind:   c.Query("kind"),
		Source: c.Query("source"),
		Limit:  100,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, fmt.Sprintf("invalid limit %q", v))
		}
		f.Limit = min(n, MaxHistoryLimit)
	}

	entries, err := s.history.List(c.UserContext(), f)
	if err != nil {
		return internalError(c, err)
	}

	items := make([]fiber.Map, len(entries))
	for i, e := range entries {
		items[i] = entryToJSON(e)
	}
	return c.JSON(fiber.Map{"entries": items})
}

func (s *Server) getHistoryEntry(c *fiber.Ctx) error {
	e, err := s.history.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, err)
		}
		return internalError(c, err)
	}
	return c.JSON(entryToJSON(e))
}

func (s *Server) clearHistory(c *fiber.Ctx) error {
	if err := s.history.Clear(c.UserContext()); err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{})
}

// --- Tape Handlers ---

func (s *Server) runTape(c *fiber.Ctx) error {
	t, err := tape.Parse(c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	report, err := tape.Run(c.UserContext(), t, tape.Options{
		History:   s.history,
		MaxDigits: s.maxDigits,
		Logger:    s.logger,
	})
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(reportToJSON(report))
}

func (s *Server) listReports(c *fiber.Ctx) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.reports))
	for k := range s.reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]fiber.Map, len(keys))
	for i, k := range keys {
		items[i] = reportToJSON(s.reports[k])
	}
	s.mu.RUnlock()

	return c.JSON(fiber.Map{"reports": items})
}

// --- Helpers ---

func errorJSON(c *fiber.Ctx, code int, status, message, reason string) error {
	body := fiber.Map{
		"code":    code,
		"message": message,
		"status":  status,
	}
	if reason != "" {
		body["reason"] = reason
	}
	return c.Status(code).JSON(fiber.Map{"error": body})
}

func badRequest(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", message, "")
}

func notFound(c *fiber.Ctx, err error) error {
	return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", err.Error(), "")
}

func internalError(c *fiber.Ctx, err error) error {
	return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL", err.Error(), "")
}

// calcError reports an evaluation failure with its error kind as the reason.
func calcError(c *fiber.Ctx, err error) error {
	var ce *types.CalcError
	if !errors.As(err, &ce) {
		return internalError(c, err)
	}
	return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", ce.Message, types.Kind(err))
}

func sessionToJSON(sess *store.Session) fiber.Map {
	result := fiber.Map{
		"id":         sess.ID,
		"display":    sess.State.Display,
		"total":      sess.State.Total,
		"newNumber":  sess.State.NewNumber,
		"error":      sess.State.Error,
		"createTime": sess.CreateTime.Format(time.RFC3339),
		"updateTime": sess.UpdateTime.Format(time.RFC3339),
	}
	if sess.State.Operator != "" {
		result["operator"] = sess.State.Operator
	}
	return result
}

func entryToJSON(e store.Entry) fiber.Map {
	result := fiber.Map{
		"id":         e.ID,
		"source":     e.Source,
		"expression": e.Expression,
		"createTime": e.CreateTime.Format(time.RFC3339Nano),
	}
	if e.Failed() {
		result["error"] = fiber.Map{
			"kind":    e.Kind,
			"message": e.Error,
		}
	} else {
		result["result"] = e.Result
		result["display"] = e.Result.String()
	}
	return result
}

func reportToJSON(r *tape.Report) fiber.Map {
	steps := make([]fiber.Map, len(r.Results))
	for i, res := range r.Results {
		step := fiber.Map{
			"step":   res.Step.Label(),
			"input":  res.Step.Input(),
			"passed": res.Passed(),
		}
		if res.Display != "" {
			step["display"] = res.Display
		}
		if res.Err != nil {
			step["errorKind"] = types.Kind(res.Err)
		}
		if res.Failure != "" {
			step["failure"] = res.Failure
		}
		steps[i] = step
	}

	result := fiber.Map{
		"tape":     r.Tape,
		"passed":   r.Passed,
		"failed":   r.Failed,
		"ok":       r.OK(),
		"duration": r.Duration.String(),
		"steps":    steps,
	}
	if r.Path != "" {
		result["path"] = r.Path
	}
	return result
}

// logWriter feeds fiber's request log lines into slog.
type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.LogAttrs(context.Background(), slog.LevelInfo, "http request",
		slog.String("request", strings.TrimSpace(string(p))))
	return len(p), nil
}
