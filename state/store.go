package state

import (
	"context"
	"fmt"
)

// Store persists the processed set. The retry queue is never persisted;
// the journal is replayed instead.
type Store interface {
	Load(ctx context.Context, s *State) error
	Save(ctx context.Context, s *State) error
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendFile, BackendSQLite:
		return b, nil
	default:
		return "", fmt.Errorf("state: unknown backend %q (want file or sqlite)", s)
	}
}

// Open returns the Store for backend rooted at dir.
func Open(backend Backend, dir string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dir), nil
	case BackendSQLite:
		return OpenSQLite(dir)
	default:
		return nil, fmt.Errorf("state: unknown backend %q", backend)
	}
}
