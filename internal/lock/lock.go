// Package lock provides named, non-blocking, cross-process exclusive locks.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release() error
}

// Locker acquires named locks without blocking.
type Locker interface {
	// TryAcquire returns ok=false, err=nil when another holder owns the name.
	TryAcquire(name string) (Lease, bool, error)
}

// FileLocker backs each name with an advisory lock on a file in dir.
type FileLocker struct {
	dir string
}

// NewFileLocker creates the lock directory if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	return &FileLocker{dir: dir}, nil
}

// PathFor returns the lock file used for name.
func (l *FileLocker) PathFor(name string) string {
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:16])+".lock")
}

// TryAcquire takes the lock for name if it is free. Every call opens its own
// descriptor, so two attempts in one process contend just like two processes.
func (l *FileLocker) TryAcquire(name string) (Lease, bool, error) {
	fl := flock.New(l.PathFor(name))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &fileLease{fl: fl}, true, nil
}

type fileLease struct {
	fl *flock.Flock
}

func (f *fileLease) Release() error {
	if !f.fl.Locked() {
		return nil
	}
	return f.fl.Unlock()
}
