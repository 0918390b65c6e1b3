// Package lockfile provides a cross-process exclusive lock per target
// database. The in-process mutation lock serializes requests within one
// process; this guards against a second odooforge process restarting the
// same stack mid-mutation.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAlreadyLocked indicates another process holds the lock.
var ErrAlreadyLocked = errors.New("lock already held")

type Lock struct {
	path string
	f    *os.File
}

// Acquire takes a non-blocking exclusive lock on path, creating the file
// if needed. Returns ErrAlreadyLocked when another process holds it.
func Acquire(path string) (*Lock, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Best-effort: write pid for troubleshooting a stuck lock.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

// ForDatabase acquires the lock file for one database under the state
// directory.
func ForDatabase(stateDir, database string) (*Lock, error) {
	return Acquire(filepath.Join(stateDir, "locks", database+".lock"))
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
