package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendPebble = "pebble"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open creates the Database selected by backend under dataDir.
func Open(backend, dataDir string, log *zap.SugaredLogger) (Database, error) {
	switch backend {
	case BackendMemory:
		return NewMemDB(), nil
	case BackendPebble, "":
		path := filepath.Join(dataDir, "pebble")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return NewPebbleDB(path)
	case BackendBadger:
		path := filepath.Join(dataDir, "badger")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return NewBadgerDB(path, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
