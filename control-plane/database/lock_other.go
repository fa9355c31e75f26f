//go:build !unix

package database

import (
	"errors"
	"os"
)

// ErrLocked is returned when another process already owns the data directory
var ErrLocked = errors.New("data directory is locked by another process")

// DirLock is a no-op on platforms without flock
type DirLock struct{}

// LockDir only makes sure dir exists on this platform
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, dataDirPerms); err != nil {
		return nil, err
	}
	return &DirLock{}, nil
}

// Unlock releases the lock
func (l *DirLock) Unlock() error {
	return nil
}
