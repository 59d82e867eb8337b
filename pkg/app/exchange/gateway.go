package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/ledger"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/host"
)

const (
	kindNative = "native"
	kindToken  = "token"
)

// DepositNative credits the native coin attached to the call
func (x *Exchange) DepositNative(env Env) error {
	amount := env.Payment()
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: no payment attached", ErrInvalidAmount)
	}
	if err := x.ledger(env).Credit(order.NativeAsset, env.Caller(), amount); err != nil {
		return err
	}
	x.metrics.Deposit(kindNative)
	x.log.Infow("deposit_native", "user", env.Caller().Hex(), "amount", amount.String())
	return nil
}

// DepositAsset starts pulling amount of an external token from the caller.
// The ledger is credited only when the transfer is confirmed.
func (x *Exchange) DepositAsset(env Env, asset common.Address, amount *big.Int) error {
	if asset == order.NativeAsset {
		return ErrNativeAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	id, err := env.TransferFrom(asset, env.Caller(), amount)
	if err != nil {
		return fmt.Errorf("failed to initiate deposit: %w", err)
	}
	x.log.Infow("deposit_initiated",
		"transfer", id,
		"asset", asset.Hex(),
		"user", env.Caller().Hex(),
		"amount", amount.String(),
	)
	return nil
}

// Withdraw pays the caller out of their ledger balance. Native coin is paid
// and debited in this call; external tokens are debited once the transfer
// is confirmed.
func (x *Exchange) Withdraw(env Env, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	user := env.Caller()
	l := x.ledger(env)

	bal, err := l.Balance(asset, user)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: has %s, withdrawing %s", ledger.ErrInsufficientFunds, bal, amount)
	}

	if asset == order.NativeAsset {
		if err := env.SendNative(user, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := l.Debit(asset, user, amount); err != nil {
			return err
		}
		x.metrics.Withdrawal(kindNative)
		x.log.Infow("withdraw_native", "user", user.Hex(), "amount", amount.String())
		return nil
	}

	id, err := env.Transfer(asset, user, amount)
	if err != nil {
		return fmt.Errorf("failed to initiate withdrawal: %w", err)
	}
	x.log.Infow("withdraw_initiated",
		"transfer", id,
		"asset", asset.Hex(),
		"user", user.Hex(),
		"amount", amount.String(),
	)
	return nil
}

// OnTransfer applies a confirmed external transfer. A failed transfer
// returns ErrTransferFailed and leaves the ledger untouched.
func (x *Exchange) OnTransfer(env host.Context, r host.TransferResult) error {
	if !r.Success {
		return fmt.Errorf("%w: transfer %d (%s %s of %s for %s): %s",
			ErrTransferFailed, r.ID, r.Kind, r.Amount, r.Token.Hex(), r.User.Hex(), r.Reason)
	}

	l := x.ledger(env)
	switch r.Kind {
	case host.TransferIn:
		if err := l.Credit(r.Token, r.User, r.Amount); err != nil {
			return err
		}
		x.metrics.Deposit(kindToken)
	case host.TransferOut:
		if err := l.Debit(r.Token, r.User, r.Amount); err != nil {
			return err
		}
		x.metrics.Withdrawal(kindToken)
	default:
		return fmt.Errorf("unknown transfer kind %d", r.Kind)
	}

	x.log.Infow("transfer_applied",
		"transfer", r.ID,
		"kind", r.Kind.String(),
		"asset", r.Token.Hex(),
		"user", r.User.Hex(),
		"amount", r.Amount.String(),
	)
	return nil
}
