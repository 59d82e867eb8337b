package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind names an event type. Indexers subscribe by kind.
type Kind string

const (
	KindAssetDeposited       Kind = "asset_deposited"
	KindAssetWithdrawn       Kind = "asset_withdrawn"
	KindTradeExecuted        Kind = "trade_executed"
	KindOrderStatusChanged   Kind = "order_status_changed"
	KindTokenTransfer        Kind = "token_transfer"
	KindTokenApproval        Kind = "token_approval"
	KindOwnershipTransferred Kind = "ownership_transferred"
)

// Event is anything a contract emits during an invocation.
type Event interface {
	Kind() Kind
	// Fields returns alternating key/value pairs; amounts are decimal strings.
	Fields() []interface{}
}

// Emitter is what contracts emit into. Emission is buffered by the host and
// only published once the invocation commits.
type Emitter interface {
	Emit(Event)
}

// AssetDeposited is emitted whenever a ledger balance is credited
type AssetDeposited struct {
	User   common.Address
	Asset  common.Address
	Amount *big.Int
}

func (AssetDeposited) Kind() Kind { return KindAssetDeposited }
func (e AssetDeposited) Fields() []interface{} {
	return []interface{}{"user", e.User.Hex(), "asset", e.Asset.Hex(), "amount", e.Amount.String()}
}

// AssetWithdrawn is emitted whenever a ledger balance is debited
type AssetWithdrawn struct {
	User   common.Address
	Asset  common.Address
	Amount *big.Int
}

func (AssetWithdrawn) Kind() Kind { return KindAssetWithdrawn }
func (e AssetWithdrawn) Fields() []interface{} {
	return []interface{}{"user", e.User.Hex(), "asset", e.Asset.Hex(), "amount", e.Amount.String()}
}

// TradeExecuted is emitted once per settled fill
type TradeExecuted struct {
	Buyer        common.Address
	Seller       common.Address
	BaseAsset    common.Address
	QuoteAsset   common.Address
	FilledPrice  *big.Int
	FilledAmount *big.Int
	AmountQuote  *big.Int
}

func (TradeExecuted) Kind() Kind { return KindTradeExecuted }
func (e TradeExecuted) Fields() []interface{} {
	return []interface{}{
		"buyer", e.Buyer.Hex(),
		"seller", e.Seller.Hex(),
		"base_asset", e.BaseAsset.Hex(),
		"quote_asset", e.QuoteAsset.Hex(),
		"filled_price", e.FilledPrice.String(),
		"filled_amount", e.FilledAmount.String(),
		"amount_quote", e.AmountQuote.String(),
	}
}

// OrderStatusChanged is emitted after a fill or a cancellation
type OrderStatusChanged struct {
	OrderHash common.Hash
	User      common.Address
	Status    string
}

func (OrderStatusChanged) Kind() Kind { return KindOrderStatusChanged }
func (e OrderStatusChanged) Fields() []interface{} {
	return []interface{}{"order_hash", e.OrderHash.Hex(), "user", e.User.Hex(), "status", e.Status}
}

// TokenTransfer is emitted by token contracts
type TokenTransfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (TokenTransfer) Kind() Kind { return KindTokenTransfer }
func (e TokenTransfer) Fields() []interface{} {
	return []interface{}{"token", e.Token.Hex(), "from", e.From.Hex(), "to", e.To.Hex(), "amount", e.Amount.String()}
}

// TokenApproval is emitted by token contracts
type TokenApproval struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

func (TokenApproval) Kind() Kind { return KindTokenApproval }
func (e TokenApproval) Fields() []interface{} {
	return []interface{}{"token", e.Token.Hex(), "owner", e.Owner.Hex(), "spender", e.Spender.Hex(), "amount", e.Amount.String()}
}

// OwnershipTransferred is emitted when a contract changes owner
type OwnershipTransferred struct {
	Contract common.Address
	Previous common.Address
	Next     common.Address
}

func (OwnershipTransferred) Kind() Kind { return KindOwnershipTransferred }
func (e OwnershipTransferred) Fields() []interface{} {
	return []interface{}{"contract", e.Contract.Hex(), "previous_owner", e.Previous.Hex(), "new_owner", e.Next.Hex()}
}

// ToMap turns an event's fields into a JSON-friendly map
func ToMap(e Event) map[string]interface{} {
	f := e.Fields()
	out := make(map[string]interface{}, len(f)/2)
	for i := 0; i+1 < len(f); i += 2 {
		if k, ok := f[i].(string); ok {
			out[k] = f[i+1]
		}
	}
	return out
}
