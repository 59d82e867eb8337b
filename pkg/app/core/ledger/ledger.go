package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/storage"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

var balancePrefix = []byte("bal|")

// BalanceKey returns bal|asset(20)|user(20)
func BalanceKey(asset, user common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, asset.Bytes()...)
	key = append(key, user.Bytes()...)
	return key
}

// Ledger maps (asset, user) to a non-negative balance.
// It knows nothing about asset kinds; the native coin is just another id.
type Ledger struct {
	kv   storage.KV
	emit events.Emitter // may be nil
}

func New(kv storage.KV, emit events.Emitter) *Ledger {
	return &Ledger{kv: kv, emit: emit}
}

// Balance returns the stored balance, zero for unknown keys
func (l *Ledger) Balance(asset, user common.Address) (*big.Int, error) {
	raw, err := l.kv.Get(BalanceKey(asset, user))
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if raw == nil {
		return new(big.Int), nil
	}
	v := new(big.Int)
	if err := storage.DecodeRLP(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Balances returns one balance per asset, in input order
func (l *Ledger) Balances(assets []common.Address, user common.Address) ([]*big.Int, error) {
	out := make([]*big.Int, len(assets))
	for i, asset := range assets {
		b, err := l.Balance(asset, user)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Credit adds amount and emits AssetDeposited
func (l *Ledger) Credit(asset, user common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal, err := l.Balance(asset, user)
	if err != nil {
		return err
	}
	if err := l.put(asset, user, bal.Add(bal, amount)); err != nil {
		return err
	}
	l.publish(events.AssetDeposited{User: user, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// Debit subtracts amount and emits AssetWithdrawn. Nothing is written when
// the balance does not cover amount.
func (l *Ledger) Debit(asset, user common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal, err := l.Balance(asset, user)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s of %s has %s, needs %s", ErrInsufficientFunds, user.Hex(), asset.Hex(), bal, amount)
	}
	if err := l.put(asset, user, bal.Sub(bal, amount)); err != nil {
		return err
	}
	l.publish(events.AssetWithdrawn{User: user, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// put stores v, deleting the key when it reaches zero
func (l *Ledger) put(asset, user common.Address, v *big.Int) error {
	key := BalanceKey(asset, user)
	if v.Sign() == 0 {
		if err := l.kv.Delete(key); err != nil {
			return fmt.Errorf("failed to delete balance: %w", err)
		}
		return nil
	}
	raw, err := storage.EncodeRLP(v)
	if err != nil {
		return err
	}
	if err := l.kv.Set(key, raw); err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return nil
}

func (l *Ledger) publish(e events.Event) {
	if l.emit != nil {
		l.emit.Emit(e)
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("amount must be a non-negative integer, got %v", amount)
	}
	return nil
}
