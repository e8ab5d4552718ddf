// Package catalog keeps a SQLite index of session documents for the list
// and search commands. The documents stay the source of truth: callers
// Sync the index from them before querying it.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/ralph/internal/research"
)

const listSeparator = "\n"

var schema = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA busy_timeout=5000;`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		query          TEXT NOT NULL,
		phase          TEXT NOT NULL,
		depth          TEXT NOT NULL,
		format         TEXT NOT NULL DEFAULT '',
		tags           TEXT NOT NULL DEFAULT '',
		entities       TEXT NOT NULL DEFAULT '',
		coverage       REAL NOT NULL DEFAULT 0,
		continued_from TEXT NOT NULL DEFAULT '',
		haystack       TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);`,
}

// Entry is one indexed session.
type Entry struct {
	ID            string
	Query         string
	Phase         research.Phase
	Depth         research.Depth
	Format        string
	Tags          []string
	Entities      []string
	Coverage      float64
	ContinuedFrom string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FromSession builds the entry for s.
func FromSession(s *research.Session) Entry {
	return Entry{
		ID:            s.ID,
		Query:         s.Query,
		Phase:         s.Phase,
		Depth:         s.Depth,
		Format:        s.Preferences.OutputFormat,
		Tags:          s.Tags,
		Entities:      s.Entities,
		Coverage:      s.Coverage.Current,
		ContinuedFrom: s.ContinuedFrom,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// haystack is the lower-cased text search matches against.
func (e Entry) haystack() string {
	parts := append([]string{e.Query}, e.Tags...)
	parts = append(parts, e.Entities...)
	return strings.ToLower(strings.Join(parts, listSeparator))
}

// Matches reports whether term occurs in the query, a tag or an entity,
// ignoring case. An empty term matches everything.
func (e Entry) Matches(term string) bool {
	return strings.Contains(e.haystack(), strings.ToLower(strings.TrimSpace(term)))
}

type row struct {
	ID            string  `db:"id"`
	Query         string  `db:"query"`
	Phase         string  `db:"phase"`
	Depth         string  `db:"depth"`
	Format        string  `db:"format"`
	Tags          string  `db:"tags"`
	Entities      string  `db:"entities"`
	Coverage      float64 `db:"coverage"`
	ContinuedFrom string  `db:"continued_from"`
	Haystack      string  `db:"haystack"`
	CreatedAt     int64   `db:"created_at"`
	UpdatedAt     int64   `db:"updated_at"`
}

func toRow(e Entry) row {
	return row{
		ID:            e.ID,
		Query:         e.Query,
		Phase:         string(e.Phase),
		Depth:         string(e.Depth),
		Format:        e.Format,
		Tags:          strings.Join(e.Tags, listSeparator),
		Entities:      strings.Join(e.Entities, listSeparator),
		Coverage:      e.Coverage,
		ContinuedFrom: e.ContinuedFrom,
		Haystack:      e.haystack(),
		CreatedAt:     e.CreatedAt.UnixNano(),
		UpdatedAt:     e.UpdatedAt.UnixNano(),
	}
}

func (r row) entry() Entry {
	return Entry{
		ID:            r.ID,
		Query:         r.Query,
		Phase:         research.Phase(r.Phase),
		Depth:         research.Depth(r.Depth),
		Format:        r.Format,
		Tags:          splitList(r.Tags),
		Entities:      splitList(r.Entities),
		Coverage:      r.Coverage,
		ContinuedFrom: r.ContinuedFrom,
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:     time.Unix(0, r.UpdatedAt).UTC(),
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}

// Catalog is the SQLite index.
type Catalog struct {
	db *sqlx.DB
}

// Open opens or creates the index at path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// One connection keeps the pragmas in force for every statement.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize catalog: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

const upsert = `INSERT INTO sessions
	(id, query, phase, depth, format, tags, entities, coverage, continued_from, haystack, created_at, updated_at)
VALUES
	(:id, :query, :phase, :depth, :format, :tags, :entities, :coverage, :continued_from, :haystack, :created_at, :updated_at)
ON CONFLICT(id) DO UPDATE SET
	query = excluded.query,
	phase = excluded.phase,
	depth = excluded.depth,
	format = excluded.format,
	tags = excluded.tags,
	entities = excluded.entities,
	coverage = excluded.coverage,
	continued_from = excluded.continued_from,
	haystack = excluded.haystack,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at`

// Sync makes the index hold exactly sessions.
func (c *Catalog) Sync(ctx context.Context, sessions []*research.Session) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if _, err := tx.NamedExecContext(ctx, upsert, toRow(FromSession(s))); err != nil {
			return fmt.Errorf("failed to index session %s: %w", s.ID, err)
		}
		ids = append(ids, s.ID)
	}

	if len(ids) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return fmt.Errorf("failed to prune catalog: %w", err)
		}
	} else {
		query, args, err := sqlx.In(`DELETE FROM sessions WHERE id NOT IN (?)`, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to prune catalog: %w", err)
		}
	}
	return tx.Commit()
}

// Filter narrows List.
type Filter struct {
	// Phase keeps sessions in this phase.
	Phase research.Phase
	// Match is a glob tested against the session id and query.
	Match string
}

// Matcher compiles f into a predicate over entries.
func (f Filter) Matcher() (func(Entry) bool, error) {
	var g glob.Glob
	if f.Match != "" {
		compiled, err := glob.Compile(f.Match)
		if err != nil {
			return nil, fmt.Errorf("invalid match pattern %q: %w", f.Match, err)
		}
		g = compiled
	}
	return func(e Entry) bool {
		if f.Phase != "" && e.Phase != f.Phase {
			return false
		}
		return g == nil || g.Match(e.ID) || g.Match(e.Query)
	}, nil
}

const selectColumns = `SELECT id, query, phase, depth, format, tags, entities, coverage, continued_from, haystack, created_at, updated_at FROM sessions`

// List returns the indexed sessions passing f, most recently updated first.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Entry, error) {
	match, err := f.Matcher()
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := c.db.SelectContext(ctx, &rows, selectColumns+` WHERE (? = '' OR phase = ?) ORDER BY updated_at DESC, id DESC`,
		string(f.Phase), string(f.Phase)); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []Entry
	for _, r := range rows {
		if e := r.entry(); match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search returns the sessions whose query, tags or entities contain term,
// ignoring case, most recently updated first.
func (c *Catalog) Search(ctx context.Context, term string) ([]Entry, error) {
	var rows []row
	needle := strings.ToLower(strings.TrimSpace(term))
	if err := c.db.SelectContext(ctx, &rows, selectColumns+` WHERE instr(haystack, ?) > 0 ORDER BY updated_at DESC, id DESC`, needle); err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}
