package host

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/metrics"
	"github.com/uhyunpark/orionex/pkg/storage"
	"github.com/uhyunpark/orionex/pkg/util"
	"go.uber.org/zap"
)

// SystemAddress is the caller of host-initiated invocations (faucet, callbacks)
var SystemAddress = common.HexToAddress("0x000000000000000000000000000000000000FFFF")

var (
	ErrUnknownTransfer = errors.New("unknown or already settled transfer")
	ErrUnknownToken    = errors.New("unknown token contract")
	ErrNativeFunds     = errors.New("insufficient native balance")
)

var (
	hostPrefix   = []byte("host|")
	heightKey    = []byte("height")
	nextIDKey    = []byte("next_transfer")
	contractsTag = []byte("c|")
)

// Token is an external asset contract the host can move funds through.
// The invoking contract is ctx.Caller().
type Token interface {
	Transfer(ctx Context, to common.Address, amount *big.Int) error
	TransferFrom(ctx Context, from, to common.Address, amount *big.Int) error
}

// CallbackFunc receives the outcome of a transfer the contract initiated
type CallbackFunc func(inv *Invocation, result TransferResult) error

// Host runs contract entry points one at a time. Each invocation sees a
// write-buffering overlay of the database; its writes, events and queued
// transfers take effect only if the entry point returns nil.
type Host struct {
	mu sync.Mutex

	db      storage.Database
	clock   util.Clock
	log     *zap.SugaredLogger
	sink    events.Sink
	metrics *metrics.Metrics

	tokens    map[common.Address]Token
	callbacks map[common.Address]CallbackFunc

	height uint64
	seq    uint64
}

// Option configures a Host
type Option func(*Host)

func WithClock(c util.Clock) Option { return func(h *Host) { h.clock = c } }
func WithLogger(l *zap.SugaredLogger) Option { return func(h *Host) { h.log = l } }
func WithSink(s events.Sink) Option { return func(h *Host) { h.sink = s } }
func WithMetrics(m *metrics.Metrics) Option { return func(h *Host) { h.metrics = m } }

// New creates a host over db, resuming the invocation height stored there
func New(db storage.Database, opts ...Option) (*Host, error) {
	h := &Host{
		db:        db,
		clock:     util.RealClock{},
		log:       zap.NewNop().Sugar(),
		tokens:    make(map[common.Address]Token),
		callbacks: make(map[common.Address]CallbackFunc),
	}
	for _, opt := range opts {
		opt(h)
	}

	height, err := readUint(storage.Namespace(db, hostPrefix), heightKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load host height: %w", err)
	}
	h.height = height

	pending, err := h.Pending()
	if err != nil {
		return nil, err
	}
	h.metrics.SetPending(len(pending))
	return h, nil
}

// RegisterToken makes addr available as a transfer target
func (h *Host) RegisterToken(addr common.Address, t Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens[addr] = t
}

// RegisterCallback sets the transfer callback for contract addr
func (h *Host) RegisterCallback(addr common.Address, fn CallbackFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[addr] = fn
}

// Height returns the number of committed invocations
func (h *Host) Height() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

// Invoke runs fn as entry point `entry` of contract, called by caller with an
// attached native payment (nil for none).
func (h *Host) Invoke(entry string, contract, caller common.Address, payment *big.Int, fn func(*Invocation) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execute(entry, contract, caller, payment, fn)
}

// View runs fn against current state and discards anything it writes
func (h *Host) View(contract common.Address, fn func(*Invocation) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	inv := h.newInvocation("view", contract, common.Address{}, nil)
	return fn(inv)
}

// Faucet mints native coin to addr. Devnet only.
func (h *Host) Faucet(addr common.Address, amount *big.Int) error {
	return h.Invoke("faucet", SystemAddress, SystemAddress, nil, func(inv *Invocation) error {
		return inv.bank().Credit(order.NativeAsset, addr, amount)
	})
}

// NativeBalance returns addr's native coin balance
func (h *Host) NativeBalance(addr common.Address) (*big.Int, error) {
	var bal *big.Int
	err := h.View(SystemAddress, func(inv *Invocation) error {
		var err error
		bal, err = inv.bank().Balance(order.NativeAsset, addr)
		return err
	})
	return bal, err
}

// execute must be called with h.mu held
func (h *Host) execute(entry string, contract, caller common.Address, payment *big.Int, fn func(*Invocation) error) (err error) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveInvocation(entry, start, err)
		if err != nil {
			h.log.Warnw("invocation_failed",
				"entry", entry,
				"contract", contract.Hex(),
				"caller", caller.Hex(),
				"err", err,
			)
		}
	}()

	inv := h.newInvocation(entry, contract, caller, payment)

	if payment != nil && payment.Sign() > 0 {
		if err := inv.moveNative(caller, contract, payment); err != nil {
			return err
		}
	}

	if err := fn(inv); err != nil {
		return err
	}

	return h.commit(inv)
}

func (h *Host) newInvocation(entry string, contract, caller common.Address, payment *big.Int) *Invocation {
	tx := storage.NewTx(h.db)
	p := new(big.Int)
	if payment != nil {
		p.Set(payment)
	}
	return &Invocation{
		host:    h,
		entry:   entry,
		caller:  caller,
		self:    contract,
		payment: p,
		now:     uint64(h.clock.Now().Unix()),
		height:  h.height + 1,
		tx:      tx,
		events:  events.NewBuffer(contract),
	}
}

func (h *Host) commit(inv *Invocation) error {
	calls := inv.calls()
	var transfers []PendingTransfer
	var emitted int
	for _, c := range calls {
		transfers = append(transfers, c.transfers...)
		emitted += len(c.events.Events())
	}

	hostKV := inv.hostKV()
	if err := writeUint(hostKV, heightKey, inv.height); err != nil {
		return err
	}
	if len(transfers) > 0 {
		if err := h.enqueue(inv, transfers); err != nil {
			return err
		}
	}
	if err := inv.tx.Commit(h.db); err != nil {
		return fmt.Errorf("failed to commit invocation: %w", err)
	}
	h.height = inv.height

	if len(transfers) > 0 {
		if pending, err := h.pendingLocked(); err == nil {
			h.metrics.SetPending(len(pending))
		}
	}

	if h.sink != nil {
		for _, c := range calls {
			for _, e := range c.events.Events() {
				h.seq++
				h.sink.Publish(events.Record{
					Seq:      h.seq,
					Contract: c.self,
					Height:   inv.height,
					Event:    e,
				})
			}
		}
	}

	h.log.Debugw("invocation_committed",
		"entry", inv.entry,
		"contract", inv.self.Hex(),
		"height", inv.height,
		"events", emitted,
		"transfers", len(transfers),
	)
	return nil
}

func contractPrefix(addr common.Address) []byte {
	p := make([]byte, 0, len(contractsTag)+common.AddressLength+1)
	p = append(p, contractsTag...)
	p = append(p, addr.Bytes()...)
	return append(p, '|')
}

func readUint(kv storage.Reader, key []byte) (uint64, error) {
	raw, err := kv.Get(key)
	if err != nil || raw == nil {
		return 0, err
	}
	var v uint64
	if err := storage.DecodeRLP(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func writeUint(kv storage.KV, key []byte, v uint64) error {
	raw, err := storage.EncodeRLP(v)
	if err != nil {
		return err
	}
	return kv.Set(key, raw)
}
