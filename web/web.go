// Package web provides the embedded web UI: a keypad calculator bound to a
// server-side session and a history browser.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/calculator/pkg/api"
	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web UI pages.
type Handler struct {
	srv     *api.Server
	funcMap template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Data      interface{}
}

// New creates a web UI handler sharing sessions and history with srv.
func New(srv *api.Server) *Handler {
	return &Handler{
		srv: srv,
		funcMap: template.FuncMap{
			"timeAgo":    timeAgo,
			"formatTime": formatTime,
			"truncate":   truncate,
			"kindClass":  kindClass,
			"shortID":    shortID,
		},
	}
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	// Each page is parsed with the layout on its own so their "content"
	// blocks do not collide.
	tmpl := template.Must(
		template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
	)

	pd := pageData{
		NavActive: navActive,
		Data:      data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pd); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Post("/ui/s", h.newSession)
	app.Get("/ui/s/:id", h.calculator)
	app.Post("/ui/s/:id/press", h.press)
	app.Get("/ui/history", h.history)

	// Redirect root to UI
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

// --- Page Data Types ---

type dashboardContent struct {
	Sessions      []*store.Session
	Recent        []store.Entry
	FailedRecent  int
	SessionsCount int
}

type calculatorContent struct {
	Session *store.Session
	Rows    [][]string
	Message string
}

type historyContent struct {
	Entries []store.Entry
	Kind    string
	Kinds   []string
}

// keyRows is the keypad layout, top to bottom.
var keyRows = [][]string{
	{"C", "%", "/"},
	{"7", "8", "9", "*"},
	{"4", "5", "6", "-"},
	{"1", "2", "3", "+"},
	{"0", ".", "="},
}

// --- Handlers ---

func (h *Handler) dashboard(c *fiber.Ctx) error {
	sessions := h.srv.Sessions().ListSessions()
	recent, err := h.srv.History().List(c.UserContext(), store.Filter{Limit: 10})
	if err != nil {
		return c.Status(500).SendString(err.Error())
	}

	content := dashboardContent{
		Sessions:      sessions,
		Recent:        recent,
		SessionsCount: len(sessions),
	}
	for _, e := range recent {
		if e.Failed() {
			content.FailedRecent++
		}
	}
	return h.render(c, "dashboard.html", "dashboard", content)
}

func (h *Handler) newSession(c *fiber.Ctx) error {
	sess := h.srv.Sessions().CreateSession(keypad.New().Snapshot())
	return c.Redirect("/ui/s/"+sess.ID, fiber.StatusSeeOther)
}

func (h *Handler) calculator(c *fiber.Ctx) error {
	sess, err := h.srv.Sessions().GetSession(c.Params("id"))
	if err != nil {
		c.Status(404)
		return h.render(c, "calculator.html", "calculator", calculatorContent{Message: "Session not found."})
	}
	return h.render(c, "calculator.html", "calculator", calculatorContent{
		Session: sess,
		Rows:    keyRows,
		Message: c.Query("error"),
	})
}

func (h *Handler) press(c *fiber.Ctx) error {
	id := c.Params("id")
	key := c.FormValue("key")

	if _, err := h.srv.PressKeys(id, key, store.SourceWeb); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Redirect("/ui", fiber.StatusSeeOther)
		}
		return c.Redirect("/ui/s/"+id+"?error="+url.QueryEscape(err.Error()), fiber.StatusSeeOther)
	}
	return c.Redirect("/ui/s/"+id, fiber.StatusSeeOther)
}

func (h *Handler) history(c *fiber.Ctx) error {
	kind := c.Query("kind")
	entries, err := h.srv.History().List(c.UserContext(), store.Filter{Kind: kind, Limit: 200})
	if err != nil {
		return c.Status(500).SendString(err.Error())
	}
	return h.render(c, "history.html", "history", historyContent{
		Entries: entries,
		Kind:    kind,
		Kinds:   []string{types.TagFormatError, types.TagZeroDivisionError},
	})
}

// --- Template Helpers ---

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func kindClass(kind string) string {
	switch kind {
	case "":
		return "ok"
	case types.TagZeroDivisionError:
		return "err-zero"
	default:
		return "err-format"
	}
}

func shortID(id string) string {
	return truncate(id, 8)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
