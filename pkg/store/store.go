// Package store provides storage for evaluation history and keypad sessions.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

// ErrNotFound is returned when a history entry or session does not exist.
var ErrNotFound = errors.New("not found")

// DefaultMemoryLimit is the number of history entries Memory keeps. When it
// is exceeded the oldest entries are dropped in one batch, leaving a tenth
// of the limit free.
const DefaultMemoryLimit = 10000

// Entry is one recorded evaluation.
type Entry struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	Expression string       `json:"expression"`
	Result     types.Number `json:"result"`
	Error      string       `json:"error,omitempty"`
	Kind       string       `json:"kind,omitempty"`
	CreateTime time.Time    `json:"createTime"`
}

// Failed reports whether the evaluation returned an error.
func (e Entry) Failed() bool {
	return e.Kind != ""
}

// Filter narrows a history listing. Zero values match everything.
type Filter struct {
	Limit  int
	Kind   string
	Source string
}

func (f Filter) match(e Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	return true
}

// History records evaluations.
type History interface {
	Record(ctx context.Context, e Entry) (Entry, error)
	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Clear(ctx context.Context) error
}

// Session is a keypad calculator kept between requests.
type Session struct {
	ID         string       `json:"id"`
	State      keypad.State `json:"state"`
	CreateTime time.Time    `json:"createTime"`
	UpdateTime time.Time    `json:"updateTime"`
}

// Memory is a thread-safe in-memory History that also holds sessions.
// Entries and sessions have separate locks: a session update may record
// history into the same Memory.
type Memory struct {
	mu      sync.RWMutex // guards entries
	entries []Entry
	limit   int

	sessMu   sync.RWMutex // guards sessions
	sessions map[string]*Session
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		limit:    DefaultMemoryLimit,
	}
}

// prepare fills in the generated fields of a new entry.
func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreateTime.IsZero() {
		e.CreateTime = time.Now().UTC()
	}
	return e
}

// Record appends an entry.
func (m *Memory) Record(_ context.Context, e Entry) (Entry, error) {
	e = prepare(e)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.limit; over > 0 {
		drop := over + m.limit/10
		m.entries = append(m.entries[:0:0], m.entries[drop:]...)
	}
	return e, nil
}

// List returns matching entries, newest first.
func (m *Memory) List(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if !f.match(m.entries[i]) {
			continue
		}
		result = append(result, m.entries[i])
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

// Get retrieves an entry by ID.
func (m *Memory) Get(_ context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("history entry '%s' %w", id, ErrNotFound)
}

// Clear removes all history entries. Sessions are kept.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	return nil
}

// CreateSession stores a new session holding state.
func (m *Memory) CreateSession(state keypad.State) *Session {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()

	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.New().String(),
		State:      state,
		CreateTime: now,
		UpdateTime: now,
	}
	m.sessions[s.ID] = s
	cp := *s
	return &cp
}

// GetSession retrieves a copy of a session.
func (m *Memory) GetSession(id string) (*Session, error) {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session '%s' %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// UpdateSession applies fn to the session's state while holding the session
// lock, so concurrent updates to one session are serialized. fn may record
// history into m. The state is
// only replaced when fn succeeds.
func (m *Memory) UpdateSession(id string, fn func(*keypad.State) error) (*Session, error) {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session '%s' %w", id, ErrNotFound)
	}

	state := s.State
	if err := fn(&state); err != nil {
		return nil, err
	}
	s.State = state
	s.UpdateTime = time.Now().UTC()

	cp := *s
	return &cp, nil
}

// DeleteSession removes a session.
func (m *Memory) DeleteSession(id string) error {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session '%s' %w", id, ErrNotFound)
	}
	delete(m.sessions, id)
	return nil
}

// ListSessions returns all sessions, oldest first.
func (m *Memory) ListSessions() []*Session {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreateTime.Equal(result[j].CreateTime) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreateTime.Before(result[j].CreateTime)
	})
	return result
}
