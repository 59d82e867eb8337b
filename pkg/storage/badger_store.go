package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerDB is an alternative on-disk backend (STORE_BACKEND=badger).
type BadgerDB struct {
	db  *badger.DB
	log *zap.SugaredLogger
}

// NewBadgerDB opens (or creates) a Badger database in dir.
func NewBadgerDB(dir string, log *zap.SugaredLogger) (*BadgerDB, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts := badger.DefaultOptions(dir).WithLogger(&badgerLogger{log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dir, err)
	}
	return &BadgerDB{db: db, log: log}, nil
}

func (s *BadgerDB) Close() error { return s.db.Close() }

// RunGC runs value log garbage collection until ctx is cancelled.
func (s *BadgerDB) RunGC(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorw("badger_gc_failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *BadgerDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return out, nil
}

func (s *BadgerDB) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerDB) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// NewBatch stages writes in a single read-write transaction so Commit
// is all-or-nothing.
func (s *BadgerDB) NewBatch() Batch {
	return &badgerBatch{txn: s.db.NewTransaction(true)}
}

type badgerBatch struct {
	txn *badger.Txn
}

func (b *badgerBatch) Set(key, value []byte) error {
	// badger keeps references to key/value until commit
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	return b.txn.Set(k, v)
}

func (b *badgerBatch) Delete(key []byte) error {
	return b.txn.Delete(append([]byte(nil), key...))
}

func (b *badgerBatch) Commit() error { return b.txn.Commit() }

func (b *badgerBatch) Close() error {
	b.txn.Discard()
	return nil
}

// badgerLogger adapts zap to badger.Logger. Badger is chatty at info level,
// so Infof is demoted to debug.
type badgerLogger struct {
	*zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Warningf(s string, a ...interface{}) { l.Warnf(s, a...) }
func (l *badgerLogger) Infof(s string, a ...interface{})    { l.Debugf(s, a...) }

var _ Database = (*BadgerDB)(nil)
