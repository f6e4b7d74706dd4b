// Package lifecycle owns the daemon's process-level concerns: the
// single-instance lock file, termination cleanup, and the API worker
// subprocess.
package lifecycle

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// InstanceLock is an advisory exclusive lock on a well-known file,
// held for the daemon's lifetime to prevent a second instance from
// starting.
type InstanceLock struct {
	path string
	file *os.File
}

// AcquireInstanceLock takes the exclusive lock or fails immediately
// when another process already holds it.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open the lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("another instance is already running")
	}
	return &InstanceLock{path: path, file: file}, nil
}

// Release drops the lock and removes the lock file.
func (l *InstanceLock) Release() {
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	_ = os.Remove(l.path)
}
