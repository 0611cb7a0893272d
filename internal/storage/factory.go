package storage

import (
	"fmt"
	"strings"

	"tinman/internal/model"
)

var ErrUnsupportedStore = fmt.Errorf("%w: unsupported store backend", model.ErrConfiguration)

// NewStore builds the backend named by kind. An empty kind means memory.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if strings.TrimSpace(sqlitePath) == "" {
			return nil, fmt.Errorf("%w: sqlite store requires a database path", model.ErrConfiguration)
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
