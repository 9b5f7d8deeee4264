//go:build unix

package alloc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DirLock is the exclusive directory lock ("lockdb") held by the owning
// engine for its entire lifetime, preventing a second engine from opening
// the same directory concurrently.
type DirLock struct {
	f *os.File
}

// LockDir acquires an exclusive, non-blocking lock on a sentinel file
// inside dir, failing fast if another engine already holds it.
func LockDir(dir string) (*DirLock, error) {
	path := dir + "/lock"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("alloc: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("alloc: lock directory: %w", err)
	}
	return &DirLock{f: f}, nil
}

// Unlock releases the directory lock.
func (l *DirLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("alloc: unlock directory: %w", err)
	}
	return cerr
}
