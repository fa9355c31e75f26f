package database

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// File names inside the data directory
const (
	AssignmentsFile = "user_assignments.json"
	IPHistoryFile   = "ip_history.json"
	BoltFile        = "fleet.db"
)

// Stores holds the two fleet stores of one data directory
type Stores struct {
	Assignments SnapshotStore
	IPHistory   SnapshotStore

	lock *DirLock
	db   *DatabaseManager
}

// OpenStores locks dir and opens both stores with the given backend
func OpenStores(backend, dir string, logger *slog.Logger) (*Stores, error) {
	lock, err := LockDir(dir)
	if err != nil {
		return nil, err
	}

	s := &Stores{lock: lock}

	switch backend {
	case BackendFile, "":
		assignments, err := NewFileStore(filepath.Join(dir, AssignmentsFile))
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		history, err := NewFileStore(filepath.Join(dir, IPHistoryFile))
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		s.Assignments, s.IPHistory = assignments, history

	case BackendBolt:
		db, err := Open(filepath.Join(dir, BoltFile), logger)
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		s.db = db
		s.Assignments = db.Store(BucketAssignments)
		s.IPHistory = db.Store(BucketIPHistory)

	default:
		lock.Unlock()
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}

	logger.Info("Fleet stores opened", "backend", backend, "data_dir", dir)
	return s, nil
}

// Close closes the database, if any, and releases the directory lock
func (s *Stores) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	errs = append(errs, s.lock.Unlock())
	return errors.Join(errs...)
}
