package host

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/ledger"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/storage"
)

// Context is what every contract sees during one invocation
type Context interface {
	Caller() common.Address
	Self() common.Address
	Now() uint64
	Height() uint64
	Payment() *big.Int
	Store() storage.KV
	events.Emitter
}

// Invocation is the execution context of a single entry point call
type Invocation struct {
	host    *Host
	entry   string
	caller  common.Address
	self    common.Address
	payment *big.Int
	now     uint64
	height  uint64

	tx        *storage.Tx
	events    *events.Buffer
	transfers []PendingTransfer
	// calls made from this invocation; they share its overlay and commit with it
	nested []*Invocation
}

var _ Context = (*Invocation)(nil)

func (inv *Invocation) Caller() common.Address { return inv.caller }
func (inv *Invocation) Self() common.Address   { return inv.self }
func (inv *Invocation) Now() uint64            { return inv.now }
func (inv *Invocation) Height() uint64         { return inv.height }
func (inv *Invocation) Entry() string          { return inv.entry }

// Payment is the native coin attached to the call, already credited to Self
func (inv *Invocation) Payment() *big.Int { return new(big.Int).Set(inv.payment) }

// Store is the contract's private key space
func (inv *Invocation) Store() storage.KV {
	return storage.Namespace(inv.tx, contractPrefix(inv.self))
}

func (inv *Invocation) Emit(e events.Event) { inv.events.Emit(e) }

// SendNative pays native coin from Self to `to` synchronously
func (inv *Invocation) SendNative(to common.Address, amount *big.Int) error {
	return inv.moveNative(inv.self, to, amount)
}

// NativeBalance returns the native coin balance of addr as seen by this call
func (inv *Invocation) NativeBalance(addr common.Address) (*big.Int, error) {
	return inv.bank().Balance(order.NativeAsset, addr)
}

// TransferFrom queues a pull of amount of token from `from` into Self.
// The transfer runs after this invocation commits; its outcome is delivered
// to Self's callback.
func (inv *Invocation) TransferFrom(token, from common.Address, amount *big.Int) (uint64, error) {
	return inv.queue(TransferIn, token, from, amount)
}

// Transfer queues a payment of amount of token from Self to `to`
func (inv *Invocation) Transfer(token, to common.Address, amount *big.Int) (uint64, error) {
	return inv.queue(TransferOut, token, to, amount)
}

func (inv *Invocation) queue(kind TransferKind, token, user common.Address, amount *big.Int) (uint64, error) {
	if _, ok := inv.host.tokens[token]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("transfer amount must be positive")
	}

	hostKV := inv.hostKV()
	id, err := readUint(hostKV, nextIDKey)
	if err != nil {
		return 0, err
	}
	id++
	if err := writeUint(hostKV, nextIDKey, id); err != nil {
		return 0, err
	}

	inv.transfers = append(inv.transfers, PendingTransfer{
		ID:        id,
		Kind:      kind,
		Token:     token,
		Initiator: inv.self,
		User:      user,
		Amount:    new(big.Int).Set(amount),
		Height:    inv.height,
	})
	return id, nil
}

// enter starts a call into contract on inv's overlay. The call commits or
// is discarded together with inv.
func (inv *Invocation) enter(entry string, contract, caller common.Address) *Invocation {
	c := &Invocation{
		host:    inv.host,
		entry:   entry,
		caller:  caller,
		self:    contract,
		payment: new(big.Int),
		now:     inv.now,
		height:  inv.height,
		tx:      inv.tx,
		events:  events.NewBuffer(contract),
	}
	inv.nested = append(inv.nested, c)
	return c
}

// calls lists inv and every call it entered, in call order
func (inv *Invocation) calls() []*Invocation {
	out := []*Invocation{inv}
	for _, c := range inv.nested {
		out = append(out, c.calls()...)
	}
	return out
}

func (inv *Invocation) hostKV() storage.KV {
	return storage.Namespace(inv.tx, hostPrefix)
}

// bank keeps native coin balances in the host's own key space
func (inv *Invocation) bank() *ledger.Ledger {
	return ledger.New(inv.hostKV(), nil)
}

func (inv *Invocation) moveNative(from, to common.Address, amount *big.Int) error {
	err := inv.bank().NewPlan().
		Debit(order.NativeAsset, from, amount).
		Credit(order.NativeAsset, to, amount).
		Apply()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNativeFunds, err)
	}
	return nil
}
