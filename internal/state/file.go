package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// FileStore keeps the record in a JSON file, replaced atomically on save.
type FileStore struct {
	path string
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = "state.json"
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the record. A missing file is an empty record.
func (s *FileStore) Load(ctx context.Context) (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, nil
		}
		return Record{}, err
	}
	return Decode(data)
}

// Save writes to a temp file and renames it over the old record.
func (s *FileStore) Save(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
