package events

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Record is a committed event together with its origin.
type Record struct {
	Seq      uint64         // global publication order
	Contract common.Address // emitting contract
	Height   uint64         // invocation number that committed it
	Event    Event
}

// Sink receives committed events.
type Sink interface {
	Publish(Record)
}

// Buffer collects events for one invocation. Contracts emit into it; the host
// drains it on commit and drops it on failure.
type Buffer struct {
	contract common.Address
	events   []Event
}

func NewBuffer(contract common.Address) *Buffer {
	return &Buffer{contract: contract}
}

func (b *Buffer) Emit(e Event) { b.events = append(b.events, e) }

// Events returns the buffered events in emission order
func (b *Buffer) Events() []Event { return b.events }

// Contract returns the emitting contract
func (b *Buffer) Contract() common.Address { return b.contract }

// Multi fans a record out to several sinks
type Multi []Sink

func (m Multi) Publish(r Record) {
	for _, s := range m {
		s.Publish(r)
	}
}

// LogSink writes every event to a zap logger
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Publish(r Record) {
	kv := append([]interface{}{"seq", r.Seq, "height", r.Height, "contract", r.Contract.Hex()}, r.Event.Fields()...)
	s.Log.Infow(string(r.Event.Kind()), kv...)
}

// Recorder keeps every published record in memory. Used by tests and by
// the API to serve recent history.
type Recorder struct {
	mu      sync.Mutex
	records []Record
	limit   int
}

// NewRecorder keeps at most limit records (0 = unbounded)
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Publish(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.limit > 0 && len(r.records) > r.limit {
		r.records = r.records[len(r.records)-r.limit:]
	}
}

// Records returns a copy of the recorded events
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// OfKind returns recorded events of kind k, oldest first
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, rec := range r.records {
		if rec.Event.Kind() == k {
			out = append(out, rec.Event)
		}
	}
	return out
}

// Reset drops everything recorded so far
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}
