// Package session persists research sessions.
//
// Each session lives in its own directory under the sessions root:
//
//	<root>/<id>/session.json       the Session document
//	<root>/<id>/brief.json         phase artifacts (see Workspace)
//	<root>/<id>/results/<task>.json
//	<root>/<id>/session.lock       run lock held by the active process
//
// The Store treats session.json as the single source of truth and only
// ever replaces it whole. Save is a compare-and-swap keyed by updated_at:
// a writer holding a stale copy gets a Conflict instead of overwriting
// newer state.
package session

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/research"
)

const (
	// SessionFileName is the session document inside a session directory.
	SessionFileName = "session.json"
	storeLockName   = ".store.lock"
)

// Store manages session directories under a root.
type Store struct {
	root   string
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store rooted at root (typically <data_dir>/sessions).
func NewStore(root string, opts ...Option) *Store {
	s := &Store{root: root, now: time.Now, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the sessions directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory of session id.
func (s *Store) Dir(id string) string { return filepath.Join(s.root, id) }

func (s *Store) documentPath(id string) string {
	return filepath.Join(s.Dir(id), SessionFileName)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// Create initializes a new session in initial_research with a fresh id.
func (s *Store) Create(query string, prefs research.Preferences) (*research.Session, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.NewValidationError("query must not be empty").WithField("query")
	}
	if _, err := research.SettingsFor(prefs.Depth); err != nil {
		return nil, errors.NewValidationError(err.Error()).WithField("depth").WithValue(prefs.Depth)
	}

	now := s.timestamp()
	sess := &research.Session{
		Query:       query,
		Phase:       research.PhaseInitialResearch,
		Depth:       prefs.Depth,
		Preferences: prefs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.insert(sess, query); err != nil {
		return nil, err
	}
	s.logger.Info("session created", "session_id", sess.ID, "depth", sess.Depth)
	return sess, nil
}

// insert reserves a unique directory for sess and writes its first document.
func (s *Store) insert(sess *research.Session, query string) error {
	id, err := reserveDir(s.root, NewID(sess.CreatedAt, query))
	if err != nil {
		return errors.NewSessionError("failed to reserve session directory", err)
	}
	sess.ID = id

	data, err := marshal(sess)
	if err != nil {
		return err
	}
	created, err := createExclusive(s.documentPath(id), data)
	if err != nil {
		return errors.NewSessionError("failed to write session", err).WithSessionID(id)
	}
	if !created {
		return errors.NewSessionError("session document already exists", nil).WithSessionID(id)
	}
	return nil
}

// Load reads session id. It fails with NotFound if the session does not exist.
func (s *Store) Load(id string) (*research.Session, error) {
	var sess research.Session
	if err := readJSON(s.documentPath(id), &sess); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("session", id).WithCause(err)
		}
		return nil, errors.NewSessionError("failed to load session",
			errors.Join(errors.ErrSessionCorrupted, err)).WithSessionID(id)
	}
	return &sess, nil
}

// Exists reports whether session id has a document.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.documentPath(id))
	return err == nil
}

// Save replaces the session document if sess.UpdatedAt still matches the
// stored one, then advances sess.UpdatedAt to the new stored value. A
// mismatch fails with Conflict and leaves the stored document untouched.
func (s *Store) Save(sess *research.Session) error {
	dir := s.Dir(sess.ID)
	if _, err := os.Stat(dir); err != nil {
		return errors.NewNotFoundError("session", sess.ID).WithCause(err)
	}

	return withFileLock(dir, func() error {
		current, err := s.Load(sess.ID)
		if err != nil {
			return err
		}
		if !current.UpdatedAt.Equal(sess.UpdatedAt) {
			return errors.NewConflictError(sess.ID, sess.UpdatedAt, current.UpdatedAt)
		}

		next := s.timestamp()
		if !next.After(current.UpdatedAt) {
			next = current.UpdatedAt.Add(time.Microsecond)
		}

		doc := sess.Clone()
		doc.UpdatedAt = next
		if err := writeJSON(s.documentPath(sess.ID), doc); err != nil {
			return errors.NewSessionError("failed to save session", err).WithSessionID(sess.ID)
		}
		sess.UpdatedAt = next
		return nil
	})
}

// ForceSave writes sess without the compare-and-swap check. It backs the
// debug set-phase command only.
func (s *Store) ForceSave(sess *research.Session) error {
	if !s.Exists(sess.ID) {
		return errors.NewNotFoundError("session", sess.ID)
	}
	return withFileLock(s.Dir(sess.ID), func() error {
		sess.UpdatedAt = s.timestamp()
		return writeJSON(s.documentPath(sess.ID), sess)
	})
}

// Delete removes the session directory. A session held by a live run is
// refused with ErrSessionLocked.
func (s *Store) Delete(id string) error {
	if !s.Exists(id) {
		return errors.NewNotFoundError("session", id)
	}
	if lock, held := IsLocked(s.Dir(id)); held {
		return errors.NewSessionError("session is in use by pid "+strconv.Itoa(lock.PID), errors.ErrSessionLocked).WithSessionID(id)
	}
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return errors.NewSessionError("failed to delete session", err).WithSessionID(id)
	}
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// IDs returns every session id under the root in lexical order, which is
// creation order for generated ids.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && s.Exists(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// List loads every readable session ordered by creation time. Sessions that
// cannot be decoded are skipped and logged.
func (s *Store) List() ([]*research.Session, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	sessions := make([]*research.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	slices.SortStableFunc(sessions, func(a, b *research.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sessions, nil
}

// Latest returns the most recently updated session.
func (s *Store) Latest() (*research.Session, error) {
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, errors.NewNotFoundError("session", "")
	}
	latest := sessions[0]
	for _, sess := range sessions[1:] {
		if !sess.UpdatedAt.Before(latest.UpdatedAt) {
			latest = sess
		}
	}
	return latest, nil
}

// Resolve maps a partial name to a session id. Tiers are tried in order:
// exact match, prefix match, substring match, then the same three ignoring
// case. Within a tier the newest id wins.
func (s *Store) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", errors.NewValidationError("session reference must not be empty")
	}
	ids, err := s.IDs()
	if err != nil {
		return "", err
	}
	if id, ok := resolve(ids, ref); ok {
		return id, nil
	}
	return "", errors.NewNotFoundError("session", ref)
}

func resolve(ids []string, ref string) (string, bool) {
	newest := slices.Clone(ids)
	slices.Sort(newest)
	slices.Reverse(newest)

	lower := strings.ToLower(ref)
	tiers := []func(id string) bool{
		func(id string) bool { return id == ref },
		func(id string) bool { return strings.HasPrefix(id, ref) },
		func(id string) bool { return strings.Contains(id, ref) },
		func(id string) bool { return strings.EqualFold(id, ref) },
		func(id string) bool { return strings.HasPrefix(strings.ToLower(id), lower) },
		func(id string) bool { return strings.Contains(strings.ToLower(id), lower) },
	}
	for _, match := range tiers {
		for _, id := range newest {
			if match(id) {
				return id, true
			}
		}
	}
	return "", false
}
