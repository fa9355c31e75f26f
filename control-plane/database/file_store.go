package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dataDirPerms  = 0o755
	dataFilePerms = 0o644
)

// FileStore keeps a document in a JSON file that is replaced atomically
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store, creating the parent directory
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPerms); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return &FileStore{path: path}, nil
}

// Path returns the file the store writes to
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads the document from disk
func (fs *FileStore) Load(v any) (bool, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", fs.path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", fs.path, err)
	}

	return true, nil
}

// Save writes the document to a temporary file, syncs it and renames it
// over the previous one, so a crash never leaves a half-written file.
func (fs *FileStore) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", fs.path, err)
	}
	data = append(data, '\n')

	tmpPath := fs.path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, dataFilePerms)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s into place: %w", fs.path, err)
	}

	// The rename is only durable once the directory entry is flushed.
	if dir, err := os.Open(filepath.Dir(fs.path)); err == nil {
		dir.Sync()
		dir.Close()
	}

	return nil
}
