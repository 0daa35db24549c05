package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fruitsalade/aftp/internal/fstree"
)

// FileStore keeps the snapshot in a single JSON file, replaced atomically.
type FileStore struct {
	path string
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Persist writes the document to a temp file then renames it over the old one.
func (s *FileStore) Persist(_ context.Context, root *fstree.Tree) error {
	data, err := Encode(root)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".aftp-index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads and decodes the snapshot file.
func (s *FileStore) Load(_ context.Context) (*fstree.Tree, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	return Decode(data)
}

// Type returns "file".
func (s *FileStore) Type() string { return "file" }

// Close is a no-op for file snapshots.
func (s *FileStore) Close() error { return nil }
