// Package runlock keeps batch runs that write the index from overlapping,
// across processes.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// FileLock is an exclusive advisory lock on a file.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock on path. Nothing is acquired yet.
func New(path string) *FileLock {
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's held elsewhere.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *FileLock) IsLocked() bool {
	return l.locked
}

// Acquire takes the lock at path or fails with ERR_503_RUN_IN_PROGRESS when
// another run holds it.
func Acquire(path string) (*FileLock, error) {
	l := New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, qaerrors.InternalError("run lock", err)
	}
	if !ok {
		return nil, qaerrors.New(qaerrors.ErrCodeRunInProgress,
			"another run is in progress", nil).
			WithDetail("lock", path).
			WithSuggestion("wait for the other run to finish")
	}
	return l, nil
}
