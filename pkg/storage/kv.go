package storage

// Reader reads raw values by key.
// Get returns (nil, nil) when the key does not exist.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// KV is the key-value view a contract sees during one invocation.
type KV interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Batch collects writes that are applied atomically on Commit.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Database is a persistent (or in-memory) backend.
type Database interface {
	KV
	NewBatch() Batch
	Close() error
}

// Namespace returns a KV that transparently prefixes every key.
// Contracts sharing one database get disjoint key spaces this way.
func Namespace(kv KV, prefix []byte) KV {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &prefixed{kv: kv, prefix: p}
}

type prefixed struct {
	kv     KV
	prefix []byte
}

func (p *prefixed) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

func (p *prefixed) Get(key []byte) ([]byte, error) { return p.kv.Get(p.key(key)) }
func (p *prefixed) Set(key, value []byte) error     { return p.kv.Set(p.key(key), value) }
func (p *prefixed) Delete(key []byte) error         { return p.kv.Delete(p.key(key)) }
