package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const processedFile = "processed.json"

type fileDoc struct {
	SavedAt   time.Time `json:"savedAt"`
	Processed []string  `json:"processed"`
}

// FileStore keeps the processed set in a JSON file. Every save rewrites
// the file through a temporary file and a rename.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore under dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, processedFile)}
}

// Load implements Store. A missing file is an empty set.
func (f *FileStore) Load(_ context.Context, s *State) error {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: read: %w", err)
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("state: decode %s: %w", f.path, err)
	}
	s.restore(doc.Processed)
	return nil
}

// Save implements Store.
func (f *FileStore) Save(_ context.Context, s *State) error {
	b, err := json.Marshal(fileDoc{SavedAt: s.now().UTC(), Processed: s.keys()})
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, processedFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	s.saved()
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error { return nil }
