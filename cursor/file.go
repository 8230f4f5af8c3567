package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File is a Cursor persisted as a small JSON document. Saves go through a
// temporary file and a rename so a crash never leaves a torn file behind.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed cursor. The parent directory is created on
// first save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load implements Cursor.
func (f *File) Load(key string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.readAll()
	if err != nil {
		return 0, false, err
	}
	block, ok := data[key]
	return block, ok, nil
}

// Save implements Cursor.
func (f *File) Save(key string, block uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.readAll()
	if err != nil {
		return err
	}
	data[key] = block

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("cursor: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("cursor: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cursor: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	return nil
}

func (f *File) readAll() (map[string]uint64, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]uint64), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cursor: read: %w", err)
	}
	data := make(map[string]uint64)
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("cursor: decode %s: %w", f.path, err)
	}
	return data, nil
}
