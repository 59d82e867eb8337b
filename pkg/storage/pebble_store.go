package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleDB is the default on-disk backend.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebbleDB opens (or creates) a Pebble database at path.
func NewPebbleDB(path string) (*PebbleDB, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleDB{db: db}, nil
}

func (s *PebbleDB) Close() error { return s.db.Close() }

func (s *PebbleDB) Get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	defer closer.Close()

	// val is only valid until closer.Close
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *PebbleDB) Set(key, value []byte) error {
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (s *PebbleDB) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{batch: s.db.NewBatch()}
}

// pebbleBatch writes atomically on Commit
type pebbleBatch struct {
	batch *pebble.Batch
}

func (b *pebbleBatch) Set(key, value []byte) error { return b.batch.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte) error     { return b.batch.Delete(key, nil) }
func (b *pebbleBatch) Commit() error               { return b.batch.Commit(pebble.Sync) }
func (b *pebbleBatch) Close() error                { return b.batch.Close() }

var _ Database = (*PebbleDB)(nil)
