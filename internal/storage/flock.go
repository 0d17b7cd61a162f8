package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLockTimeout is returned when an advisory lock cannot be acquired
// within the configured bound.
var ErrLockTimeout = errors.New("storage: lock acquisition timed out")

const lockRetryInterval = 10 * time.Millisecond

// WithFileLock runs fn while holding an exclusive advisory lock on
// path+".lock". The lock uses flock(2) in non-blocking mode and is retried
// until timeout; it is released on every exit path, including panics.
func WithFileLock(path string, timeout time.Duration, fn func() error) error {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func(f *os.File) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}(f)

	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			return fmt.Errorf("flock %s: %w", lockPath, err)
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
	return fn()
}
