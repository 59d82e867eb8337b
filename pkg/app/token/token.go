package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/ledger"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/host"
	"github.com/uhyunpark/orionex/pkg/storage"
)

var (
	ErrNotOwner           = errors.New("must be called by owner")
	ErrAllowanceExceeded  = errors.New("allowance exceeded")
	ErrAlreadyInitialized = errors.New("token already initialized")
)

var (
	ownerKey     = []byte("owner")
	supplyKey    = []byte("total_supply")
	allowancePfx = []byte("alw|")
)

// Token is a fungible asset contract. All state lives in the invocation's
// store; the struct only carries display metadata.
type Token struct {
	Name     string
	Symbol   string
	Decimals uint8
}

var _ host.Token = (*Token)(nil)

func New(name, symbol string, decimals uint8) *Token {
	return &Token{Name: name, Symbol: symbol, Decimals: decimals}
}

// Init records the caller as owner (the only account allowed to mint)
func (t *Token) Init(ctx host.Context) error {
	raw, err := ctx.Store().Get(ownerKey)
	if err != nil {
		return err
	}
	if raw != nil {
		return ErrAlreadyInitialized
	}
	return ctx.Store().Set(ownerKey, ctx.Caller().Bytes())
}

func (t *Token) Owner(ctx host.Context) (common.Address, error) {
	raw, err := ctx.Store().Get(ownerKey)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(raw), nil
}

func (t *Token) TotalSupply(ctx host.Context) (*big.Int, error) {
	return readInt(ctx.Store(), supplyKey)
}

func (t *Token) BalanceOf(ctx host.Context, addr common.Address) (*big.Int, error) {
	return balances(ctx).Balance(ctx.Self(), addr)
}

func (t *Token) Allowance(ctx host.Context, owner, spender common.Address) (*big.Int, error) {
	return readInt(ctx.Store(), allowanceKey(owner, spender))
}

// Transfer moves amount from the caller to `to`
func (t *Token) Transfer(ctx host.Context, to common.Address, amount *big.Int) error {
	return t.move(ctx, ctx.Caller(), to, amount)
}

// TransferFrom moves amount from `from` to `to` against the caller's allowance
func (t *Token) TransferFrom(ctx host.Context, from, to common.Address, amount *big.Int) error {
	key := allowanceKey(from, ctx.Caller())
	allowance, err := readInt(ctx.Store(), key)
	if err != nil {
		return err
	}
	if amount == nil || amount.Cmp(allowance) > 0 {
		return fmt.Errorf("%w: %s allowed, %v requested", ErrAllowanceExceeded, allowance, amount)
	}
	if err := writeInt(ctx.Store(), key, allowance.Sub(allowance, amount)); err != nil {
		return err
	}
	return t.move(ctx, from, to, amount)
}

// Approve sets the caller's allowance for spender
func (t *Token) Approve(ctx host.Context, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("allowance must not be negative")
	}
	if err := writeInt(ctx.Store(), allowanceKey(ctx.Caller(), spender), amount); err != nil {
		return err
	}
	ctx.Emit(events.TokenApproval{Token: ctx.Self(), Owner: ctx.Caller(), Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferOwnership hands minting rights to next. Owner only.
func (t *Token) TransferOwnership(ctx host.Context, next common.Address) error {
	owner, err := t.onlyOwner(ctx)
	if err != nil {
		return err
	}
	if next == (common.Address{}) {
		return fmt.Errorf("new owner is the zero address")
	}
	if err := ctx.Store().Set(ownerKey, next.Bytes()); err != nil {
		return err
	}
	ctx.Emit(events.OwnershipTransferred{Contract: ctx.Self(), Previous: owner, Next: next})
	return nil
}

// Mint creates amount for recipient. Owner only.
func (t *Token) Mint(ctx host.Context, recipient common.Address, amount *big.Int) error {
	if _, err := t.onlyOwner(ctx); err != nil {
		return err
	}
	if err := balances(ctx).Credit(ctx.Self(), recipient, amount); err != nil {
		return err
	}
	supply, err := readInt(ctx.Store(), supplyKey)
	if err != nil {
		return err
	}
	if err := writeInt(ctx.Store(), supplyKey, supply.Add(supply, amount)); err != nil {
		return err
	}
	ctx.Emit(events.TokenTransfer{Token: ctx.Self(), From: common.Address{}, To: recipient, Amount: new(big.Int).Set(amount)})
	return nil
}

func (t *Token) onlyOwner(ctx host.Context) (common.Address, error) {
	owner, err := t.Owner(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if ctx.Caller() != owner {
		return common.Address{}, ErrNotOwner
	}
	return owner, nil
}

func (t *Token) move(ctx host.Context, from, to common.Address, amount *big.Int) error {
	err := balances(ctx).NewPlan().
		Debit(ctx.Self(), from, amount).
		Credit(ctx.Self(), to, amount).
		Apply()
	if err != nil {
		return err
	}
	ctx.Emit(events.TokenTransfer{Token: ctx.Self(), From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// balances are kept in a ledger keyed by the token's own address
func balances(ctx host.Context) *ledger.Ledger {
	return ledger.New(ctx.Store(), nil)
}

func allowanceKey(owner, spender common.Address) []byte {
	key := make([]byte, 0, len(allowancePfx)+2*common.AddressLength)
	key = append(key, allowancePfx...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func readInt(kv storage.Reader, key []byte) (*big.Int, error) {
	raw, err := kv.Get(key)
	if err != nil {
		return nil, err
	}
	v := new(big.Int)
	if raw == nil {
		return v, nil
	}
	if err := storage.DecodeRLP(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

func writeInt(kv storage.KV, key []byte, v *big.Int) error {
	raw, err := storage.EncodeRLP(v)
	if err != nil {
		return err
	}
	return kv.Set(key, raw)
}
