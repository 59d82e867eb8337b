package exchange

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/ledger"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/app/core/orderstate"
	"github.com/uhyunpark/orionex/pkg/host"
	"github.com/uhyunpark/orionex/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrNotOwner         = errors.New("caller is not the order owner")
	ErrAlreadyCancelled = errors.New("order already cancelled")
	ErrFillExceedsOrder = errors.New("fill exceeds order")
	ErrTransferFailed   = errors.New("external transfer failed")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrNativeAsset      = errors.New("native asset is deposited with depositERD")
)

// Entry point names, as invoked on the host and exposed over the API
const (
	EntryFillOrders   = "fillOrders"
	EntryCancelOrder  = "cancelOrder"
	EntryDepositAsset = "depositAsset"
	EntryDepositERD   = "depositERD"
	EntryWithdraw     = "withdraw"
)

// Env is what the exchange needs from its host for one invocation
type Env interface {
	host.Context
	SendNative(to common.Address, amount *big.Int) error
	TransferFrom(token, from common.Address, amount *big.Int) (uint64, error)
	Transfer(token, to common.Address, amount *big.Int) (uint64, error)
}

// Exchange is the settlement contract. It holds no state of its own; every
// call works on the store of the invocation it runs in.
type Exchange struct {
	validator *order.Validator
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
}

// Option configures an Exchange
type Option func(*Exchange)

func WithLogger(l *zap.SugaredLogger) Option { return func(x *Exchange) { x.log = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(x *Exchange) { x.metrics = m } }

func New(v *order.Validator, opts ...Option) *Exchange {
	x := &Exchange{
		validator: v,
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Validator returns the order validator
func (x *Exchange) Validator() *order.Validator { return x.validator }

// Callback adapts OnTransfer for host.RegisterCallback
func (x *Exchange) Callback() host.CallbackFunc {
	return func(inv *host.Invocation, r host.TransferResult) error {
		return x.OnTransfer(inv, r)
	}
}

func (x *Exchange) ledger(env host.Context) *ledger.Ledger {
	return ledger.New(env.Store(), env)
}

func (x *Exchange) orders(env host.Context) *orderstate.Store {
	return orderstate.New(env.Store())
}

/* views */

func (x *Exchange) Balance(env host.Context, asset, user common.Address) (*big.Int, error) {
	return x.ledger(env).Balance(asset, user)
}

func (x *Exchange) Balances(env host.Context, assets []common.Address, user common.Address) ([]*big.Int, error) {
	return x.ledger(env).Balances(assets, user)
}

func (x *Exchange) OrderStatus(env host.Context, hash common.Hash) (order.Status, error) {
	return x.orders(env).Status(hash)
}

// IsOrderCancelled is true once the order is Cancelled or PartiallyCancelled
func (x *Exchange) IsOrderCancelled(env host.Context, hash common.Hash) (bool, error) {
	active, err := x.orders(env).IsActive(hash)
	if err != nil {
		return false, err
	}
	return !active, nil
}

func (x *Exchange) OrderTrades(env host.Context, o *order.Order) ([]order.Trade, error) {
	hash, err := o.Hash()
	if err != nil {
		return nil, err
	}
	return x.orders(env).Trades(hash)
}

// FilledAmounts returns (total filled, total fees paid) for o
func (x *Exchange) FilledAmounts(env host.Context, o *order.Order) (*big.Int, *big.Int, error) {
	hash, err := o.Hash()
	if err != nil {
		return nil, nil, err
	}
	return x.orders(env).FilledTotals(hash)
}

// ValidateOrder reports whether o passes structural and signature checks
func (x *Exchange) ValidateOrder(o *order.Order) bool {
	return x.validator.Validate(o) == nil
}
