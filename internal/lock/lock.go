package lock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another run owns the lock.
var ErrHeld = errors.New("another backup or restore is already running")

type Lock struct {
	file *flock.Flock
}

// Acquire takes a non-blocking filesystem lock. An empty path disables
// locking and returns a nil *Lock, which is safe to Release.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock: %s)", ErrHeld, path)
	}
	return &Lock{file: lock}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
