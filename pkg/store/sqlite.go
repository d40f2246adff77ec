package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lemonberrylabs/calculator/pkg/types"
)

// SQLite is a History persisted in a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// it. Use ":memory:" for a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Record inserts an entry.
func (s *SQLite) Record(ctx context.Context, e Entry) (Entry, error) {
	e = prepare(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, source, expression, result, error, kind, create_time) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.Expression, encodeResult(float64(e.Result)), e.Error, e.Kind, e.CreateTime.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to record history entry: %w", err)
	}
	return e, nil
}

// List returns matching entries, newest first.
func (s *SQLite) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}

	query := `SELECT id, source, expression, result, error, kind, create_time FROM history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Get retrieves an entry by ID.
func (s *SQLite) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, expression, result, error, kind, create_time FROM history WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("history entry '%s' %w", id, ErrNotFound)
	}
	return e, err
}

// Clear removes all entries.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e       Entry
		result  string
		created int64
	)
	if err := row.Scan(&e.ID, &e.Source, &e.Expression, &result, &e.Error, &e.Kind, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to scan history entry: %w", err)
	}
	f, err := strconv.ParseFloat(result, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid stored result %q: %w", result, err)
	}
	e.Result = types.Number(f)
	e.CreateTime = time.Unix(0, created).UTC()
	return e, nil
}

// encodeResult stores results as text so infinities survive the round trip.
func encodeResult(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
