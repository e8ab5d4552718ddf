package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
)

// LockFileName is the name of the run lock within a session directory
const LockFileName = "session.lock"

// Lock marks a session as being driven by one process. Only the holder
// runs phases for the session; everyone else may read it.
type Lock struct {
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// AcquireLock takes the run lock for session id, reclaiming a lock left by
// a dead process. A lock held by a live process fails with ErrSessionLocked.
func (s *Store) AcquireLock(id string) (*Lock, error) {
	if !s.Exists(id) {
		return nil, errors.NewNotFoundError("session", id)
	}
	return AcquireLock(s.Dir(id), id, s.logger)
}

// AcquireLock takes the run lock in sessionDir. The logger may be nil.
func AcquireLock(sessionDir, sessionID string, logger *logging.Logger) (*Lock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	path := filepath.Join(sessionDir, LockFileName)

	if existing, err := ReadLock(path); err == nil {
		if isProcessAlive(existing.PID) {
			logger.Error("failed to acquire lock", "session_id", sessionID, "pid", existing.PID, "host", existing.Hostname)
			return nil, lockedError(sessionID, existing)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale lock cleaned", "session_id", sessionID, "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		SessionID: sessionID,
		RunID:     uuid.NewString(),
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	created, err := createExclusive(path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if !created {
		if other, readErr := ReadLock(path); readErr == nil {
			return nil, lockedError(sessionID, other)
		}
		return nil, errors.NewSessionError("lock file appeared concurrently", errors.ErrSessionLocked).WithSessionID(sessionID)
	}

	logger.Info("session lock acquired", "session_id", sessionID, "run_id", lock.RunID, "pid", lock.PID)
	return lock, nil
}

func lockedError(sessionID string, held *Lock) error {
	return errors.NewSessionError(
		fmt.Sprintf("locked by PID %d on %s since %s", held.PID, held.Hostname, held.StartedAt.Format(time.RFC3339)),
		errors.ErrSessionLocked,
	).WithSessionID(sessionID)
}

// Release removes the lock file if this process still owns it.
// Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	current, err := ReadLock(l.path)
	if err != nil || current.RunID != l.RunID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.logger.Info("session lock released", "session_id", l.SessionID, "run_id", l.RunID)
	return nil
}

// ReadLock reads a lock file.
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// IsLocked reports whether sessionDir holds a lock owned by a live process.
// The lock is returned even when stale.
func IsLocked(sessionDir string) (*Lock, bool) {
	lock, err := ReadLock(filepath.Join(sessionDir, LockFileName))
	if err != nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID)
}

// isProcessAlive sends signal 0, which checks for existence only.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
