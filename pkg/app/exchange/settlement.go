package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/app/core/orderstate"
	"github.com/uhyunpark/orionex/pkg/events"
)

// side is one order's view of a fill
type side struct {
	o        *order.Order
	name     string
	hash     common.Hash
	fee      *big.Int // fee charged for this fill
	filled   *big.Int // cumulative, after this fill
	feesPaid *big.Int // cumulative, after this fill
}

// FillOrders settles a matched pair. Every check runs before the first
// write; the host discards the invocation if anything fails afterwards.
func (x *Exchange) FillOrders(env Env, buy, sell *order.Order, filledPrice, filledAmount *big.Int) error {
	if err := x.validator.CheckMatchedPair(buy, sell, env.Caller(), filledAmount, filledPrice, env.Now()); err != nil {
		return err
	}
	amountQuote := new(big.Int).Mul(filledAmount, filledPrice)

	store := x.orders(env)
	sides := make([]*side, 0, 2)
	for _, s := range []struct {
		name string
		o    *order.Order
	}{{"buy", buy}, {"sell", sell}} {
		sd, err := x.prepareSide(store, s.name, s.o, filledAmount)
		if err != nil {
			return err
		}
		sides = append(sides, sd)
	}
	b, s := sides[0], sides[1]

	plan := x.ledger(env).NewPlan().
		Debit(buy.QuoteAsset, buy.Sender, amountQuote).
		Credit(buy.BaseAsset, buy.Sender, filledAmount).
		Debit(sell.BaseAsset, sell.Sender, filledAmount).
		Credit(sell.QuoteAsset, sell.Sender, amountQuote).
		Debit(buy.FeeAsset, buy.Sender, b.fee).
		Credit(buy.FeeAsset, buy.Matcher, b.fee).
		Debit(sell.FeeAsset, sell.Sender, s.fee).
		Credit(sell.FeeAsset, sell.Matcher, s.fee)
	if err := plan.Apply(); err != nil {
		return err
	}

	for _, sd := range sides {
		trade := order.Trade{
			Price:     new(big.Int).Set(filledPrice),
			Amount:    new(big.Int).Set(filledAmount),
			Fee:       sd.fee,
			Timestamp: env.Now(),
		}
		if err := store.AppendTrade(sd.hash, trade); err != nil {
			return err
		}
	}

	env.Emit(events.TradeExecuted{
		Buyer:        buy.Sender,
		Seller:       sell.Sender,
		BaseAsset:    buy.BaseAsset,
		QuoteAsset:   buy.QuoteAsset,
		FilledPrice:  new(big.Int).Set(filledPrice),
		FilledAmount: new(big.Int).Set(filledAmount),
		AmountQuote:  amountQuote,
	})

	for _, sd := range sides {
		st := order.StatusPartiallyFilled
		if sd.filled.Cmp(sd.o.Amount) == 0 {
			st = order.StatusFilled
		}
		if err := store.SetStatus(sd.hash, st); err != nil {
			return err
		}
		env.Emit(events.OrderStatusChanged{OrderHash: sd.hash, User: sd.o.Sender, Status: st.String()})
	}

	x.metrics.Fill()
	x.log.Infow("orders_filled",
		"buy", b.hash.Hex(),
		"sell", s.hash.Hex(),
		"price", filledPrice.String(),
		"amount", filledAmount.String(),
		"buy_filled", b.filled.String(),
		"sell_filled", s.filled.String(),
	)
	return nil
}

// prepareSide loads an order's fill history and checks this fill against
// its remaining amount and fee budget
func (x *Exchange) prepareSide(store *orderstate.Store, name string, o *order.Order, filledAmount *big.Int) (*side, error) {
	hash, err := o.Hash()
	if err != nil {
		return nil, err
	}

	active, err := store.IsActive(hash)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: %s order %s is cancelled", order.ErrInvalidOrder, name, hash.Hex())
	}

	filled, feesPaid, err := store.FilledTotals(hash)
	if err != nil {
		return nil, err
	}

	// matcherFee * filledAmount / amount, rounded down
	fee := new(big.Int).Mul(o.MatcherFee, filledAmount)
	fee.Quo(fee, o.Amount)

	filled.Add(filled, filledAmount)
	if filled.Cmp(o.Amount) > 0 {
		return nil, fmt.Errorf("%w: %s order would be filled %s of %s", ErrFillExceedsOrder, name, filled, o.Amount)
	}
	feesPaid.Add(feesPaid, fee)
	if feesPaid.Cmp(o.MatcherFee) > 0 {
		return nil, fmt.Errorf("%w: %s order fees %s exceed %s", ErrFillExceedsOrder, name, feesPaid, o.MatcherFee)
	}

	return &side{o: o, name: name, hash: hash, fee: fee, filled: filled, feesPaid: feesPaid}, nil
}

// CancelOrder blocks any further fills of o. Only the owner may cancel.
func (x *Exchange) CancelOrder(env Env, o *order.Order) error {
	if err := x.validator.Validate(o); err != nil {
		return err
	}
	if env.Caller() != o.Sender {
		return fmt.Errorf("%w: %s", ErrNotOwner, env.Caller().Hex())
	}

	hash, err := o.Hash()
	if err != nil {
		return err
	}
	store := x.orders(env)
	st, err := store.Status(hash)
	if err != nil {
		return err
	}
	switch {
	case st.Cancelled():
		return fmt.Errorf("%w: %s", ErrAlreadyCancelled, hash.Hex())
	case st == order.StatusFilled:
		return fmt.Errorf("%w: order %s already filled", order.ErrInvalidOrder, hash.Hex())
	}

	filled, _, err := store.FilledTotals(hash)
	if err != nil {
		return err
	}
	next := order.StatusCancelled
	if filled.Sign() > 0 {
		next = order.StatusPartiallyCancelled
	}
	if err := store.SetStatus(hash, next); err != nil {
		return err
	}
	env.Emit(events.OrderStatusChanged{OrderHash: hash, User: o.Sender, Status: next.String()})

	x.metrics.Cancel()
	x.log.Infow("order_cancelled", "hash", hash.Hex(), "owner", o.Sender.Hex(), "status", next.String())
	return nil
}
