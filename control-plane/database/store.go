// Package database persists fleet state. Each store holds one JSON
// document that is rewritten in full on every mutation and read back in
// full at start-up.
package database

import "errors"

// Storage backends selectable from configuration
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// ErrClosed is returned by stores whose backing database has been closed
var ErrClosed = errors.New("database closed")

// SnapshotStore loads and saves a whole document
type SnapshotStore interface {
	// Load decodes the stored document into v. It reports false, and
	// leaves v untouched, when nothing has been stored yet.
	Load(v any) (bool, error)
	// Save replaces the stored document with v. A failed Save leaves the
	// previous document intact.
	Save(v any) error
}
