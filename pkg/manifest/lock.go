package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("manifest is locked by another run")

// Lock is an advisory file lock guarding one manifest for the duration of a
// run.
type Lock struct {
	flock *flock.Flock
}

// NewLock creates a lock backed by the file at path. The file is created on
// TryLock.
func NewLock(path string) *Lock {
	return &Lock{flock: flock.New(path)}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.flock.Path()
}

// TryLock acquires the lock without blocking.
func (l *Lock) TryLock() error {
	if dir := filepath.Dir(l.flock.Path()); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating lock directory %s: %w", dir, err)
		}
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", l.flock.Path(), err)
	}

	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, l.flock.Path())
	}

	return nil
}

// Unlock releases the lock. The lock file stays in place so every run locks
// the same inode. It is a no-op when this process does not hold the lock.
func (l *Lock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.flock.Path(), err)
	}

	return nil
}
