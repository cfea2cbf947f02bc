package registry

import (
	"context"
	"fmt"
)

// Store persists the registry document. Implementations replace the whole
// document on Save; there is no locking between processes, so concurrent
// writers lose updates (last writer wins).
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Close() error
}

// Backend names accepted by NewStore.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// NewStore opens the store for backend at path.
func NewStore(backend, path string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONFileStore(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	case BackendMemory:
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q (valid: json, sqlite, memory)", backend)
	}
}
