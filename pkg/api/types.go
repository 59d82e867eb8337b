package api

import "github.com/uhyunpark/orionex/pkg/app/core/order"

// API request and response types. Quantities are decimal strings and
// addresses 0x-prefixed hex.

// ==============================
// Requests
// ==============================

// FillRequest settles a matched pair (matcher only)
type FillRequest struct {
	Buy          order.Payload `json:"buy"`
	Sell         order.Payload `json:"sell"`
	FilledPrice  string        `json:"filled_price"`
	FilledAmount string        `json:"filled_amount"`
}

// CancelRequest cancels an order (owner only)
type CancelRequest struct {
	Order order.Payload `json:"order"`
}

// AssetAmountRequest is used by token deposits and all withdrawals
type AssetAmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// NativeDepositRequest attaches Amount of native coin as payment
type NativeDepositRequest struct {
	Amount string `json:"amount"`
}

// FaucetRequest mints native coin on devnets
type FaucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// TokenCallRequest is used by token approve, transfer, mint and ownership
type TokenCallRequest struct {
	To     string `json:"to"` // spender for approve, new owner for ownership
	Amount string `json:"amount,omitempty"`
}

// ==============================
// Responses
// ==============================

// BalanceInfo is one ledger entry
type BalanceInfo struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// TokenInfo describes a deployed token contract
type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
}

// OrderStatusInfo describes the stored state of an order hash
type OrderStatusInfo struct {
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

// TradeInfo is one recorded fill
type TradeInfo struct {
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Timestamp uint64 `json:"timestamp"` // Unix seconds
}

// FilledInfo sums an order's fills
type FilledInfo struct {
	Hash     string `json:"hash"`
	Filled   string `json:"filled"`
	FeesPaid string `json:"fees_paid"`
}

// ValidationInfo is the result of validateOrder
type ValidationInfo struct {
	Hash   string `json:"hash,omitempty"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// TransferInfo is a pending or settled external transfer
type TransferInfo struct {
	ID      uint64 `json:"id"`
	Kind    string `json:"kind"` // "in" | "out"
	Token   string `json:"token"`
	User    string `json:"user"`
	Amount  string `json:"amount"`
	Success *bool  `json:"success,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ChainStatus describes the node
type ChainStatus struct {
	Height             uint64 `json:"height"`
	Exchange           string `json:"exchange"`
	ChainID            string `json:"chain_id"`
	RequiresSignatures bool   `json:"requires_signatures"`
	PendingTransfers   int    `json:"pending_transfers"`
}

// TxResponse acknowledges a committed invocation
type TxResponse struct {
	Status string `json:"status"` // "committed"
	Entry  string `json:"entry"`
	Height uint64 `json:"height"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest subscribes to event kinds, or "events" for all
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trade_executed", "asset_deposited"]
}

// EventMessage is pushed to subscribers for every committed event
type EventMessage struct {
	Type     string                 `json:"type"` // always "event"
	Kind     string                 `json:"kind"`
	Seq      uint64                 `json:"seq"`
	Height   uint64                 `json:"height"`
	Contract string                 `json:"contract"`
	Data     map[string]interface{} `json:"data"`
}
