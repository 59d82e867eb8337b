package storage

import (
	"fmt"
	"sort"
)

// Tx buffers writes on top of a Reader. Reads see the buffered writes first.
// Nothing reaches the underlying store until WriteTo is called, so dropping
// a Tx discards every change made through it.
type Tx struct {
	base   Reader
	writes map[string]*[]byte // nil pointer = deleted
}

// NewTx creates a write-buffering overlay over base.
func NewTx(base Reader) *Tx {
	return &Tx{
		base:   base,
		writes: make(map[string]*[]byte),
	}
}

func (tx *Tx) Get(key []byte) ([]byte, error) {
	if v, ok := tx.writes[string(key)]; ok {
		if v == nil {
			return nil, nil
		}
		out := make([]byte, len(*v))
		copy(out, *v)
		return out, nil
	}
	return tx.base.Get(key)
}

func (tx *Tx) Set(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	tx.writes[string(key)] = &v
	return nil
}

func (tx *Tx) Delete(key []byte) error {
	tx.writes[string(key)] = nil
	return nil
}

// Len returns the number of buffered writes.
func (tx *Tx) Len() int { return len(tx.writes) }

// WriteTo flushes the buffered writes into b in key order.
// The caller commits (or closes) the batch.
func (tx *Tx) WriteTo(b Batch) error {
	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := tx.writes[k]
		if v == nil {
			if err := b.Delete([]byte(k)); err != nil {
				return fmt.Errorf("failed to stage delete: %w", err)
			}
			continue
		}
		if err := b.Set([]byte(k), *v); err != nil {
			return fmt.Errorf("failed to stage write: %w", err)
		}
	}
	return nil
}

// Commit writes the buffered changes to db in a single atomic batch.
func (tx *Tx) Commit(db Database) error {
	if len(tx.writes) == 0 {
		return nil
	}
	b := db.NewBatch()
	defer b.Close()

	if err := tx.WriteTo(b); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	tx.writes = make(map[string]*[]byte)
	return nil
}
