//go:build !windows

// Package lock provides the host-wide guard that keeps a single manager
// instance running at a time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// Guard is an acquired lock. The kernel drops the lock if the process dies
// without calling Release, so a stale file never blocks the next run.
type Guard struct {
	path string
	file *os.File
	once sync.Once
	err  error
}

// Acquire takes an exclusive, non-blocking lock on path, creating the file
// if needed, and records the current PID in it.
func Acquire(path string) (*Guard, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		f, err := lockFile(path)
		if err != nil {
			return nil, err
		}
		// A releasing holder unlinks the file before unlocking it, so the
		// inode we locked may no longer be the one at path.
		same, err := sameFile(f, path)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if !same {
			_ = f.Close()
			continue
		}
		if err := f.Truncate(0); err == nil {
			_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
		}
		return &Guard{path: path, file: f}, nil
	}
	return nil, ErrLocked
}

const maxAttempts = 5

// afterOpen runs between opening and locking the file. Tests use it to
// replace the file underneath Acquire.
var afterOpen func(path string)

func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if afterOpen != nil {
		afterOpen(path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return f, nil
}

// sameFile reports whether f is still the file linked at path.
func sameFile(f *os.File, path string) (bool, error) {
	var held, current unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &held); err != nil {
		return false, fmt.Errorf("stat lock file: %w", err)
	}
	if err := unix.Stat(path, &current); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return held.Dev == current.Dev && held.Ino == current.Ino, nil
}

// Path returns the lock file location.
func (g *Guard) Path() string {
	return g.path
}

// Release removes the lock file and drops the lock. A process that opened
// the removed file before the unlink notices the mismatch in Acquire and
// retries on the new file. Calling Release more than once is safe.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		var errs []error
		if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove lock file: %w", err))
		}
		if err := unix.Flock(int(g.file.Fd()), unix.LOCK_UN); err != nil {
			errs = append(errs, fmt.Errorf("unlock: %w", err))
		}
		if err := g.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lock file: %w", err))
		}
		g.err = errors.Join(errs...)
	})
	return g.err
}

// HolderPID reads the PID recorded in a lock file; 0 when unknown.
func HolderPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
