package order

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Payload is the JSON wire form of an Order. Quantities are decimal strings,
// addresses and the signature are 0x-prefixed hex.
type Payload struct {
	Sender     string `json:"sender"`
	Matcher    string `json:"matcher"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	FeeAsset   string `json:"fee_asset"`
	Amount     string `json:"amount"`      // BigInt as string
	Price      string `json:"price"`       // BigInt as string
	MatcherFee string `json:"matcher_fee"` // BigInt as string
	Nonce      string `json:"nonce"`       // BigInt as string
	Expiration string `json:"expiration"`  // Unix timestamp
	Side       string `json:"side"`        // "buy" | "sell"
	Signature  string `json:"signature,omitempty"`
}

// ToOrder parses the payload
func (p *Payload) ToOrder() (*Order, error) {
	o := &Order{}
	var err error

	addrs := []struct {
		name string
		in   string
		out  *common.Address
	}{
		{"sender", p.Sender, &o.Sender},
		{"matcher", p.Matcher, &o.Matcher},
		{"base_asset", p.BaseAsset, &o.BaseAsset},
		{"quote_asset", p.QuoteAsset, &o.QuoteAsset},
		{"fee_asset", p.FeeAsset, &o.FeeAsset},
	}
	for _, a := range addrs {
		if *a.out, err = ParseAddress(a.in); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", a.name, err)
		}
	}

	ints := []struct {
		name string
		in   string
		out  **big.Int
	}{
		{"amount", p.Amount, &o.Amount},
		{"price", p.Price, &o.Price},
		{"matcher_fee", p.MatcherFee, &o.MatcherFee},
		{"nonce", p.Nonce, &o.Nonce},
	}
	for _, q := range ints {
		if *q.out, err = ParseAmount(q.in); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", q.name, err)
		}
	}

	if o.Expiration, err = strconv.ParseUint(p.Expiration, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid expiration: %s", p.Expiration)
	}

	switch strings.ToLower(p.Side) {
	case "buy":
		o.Side = Buy
	case "sell":
		o.Side = Sell
	default:
		return nil, fmt.Errorf("invalid side: %s", p.Side)
	}

	if p.Signature != "" {
		sig, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid hex signature: %w", err)
		}
		o.Signature = sig
	}
	return o, nil
}

// PayloadFrom renders o in wire form
func PayloadFrom(o *Order) *Payload {
	p := &Payload{
		Sender:     o.Sender.Hex(),
		Matcher:    o.Matcher.Hex(),
		BaseAsset:  o.BaseAsset.Hex(),
		QuoteAsset: o.QuoteAsset.Hex(),
		FeeAsset:   o.FeeAsset.Hex(),
		Amount:     intString(o.Amount),
		Price:      intString(o.Price),
		MatcherFee: intString(o.MatcherFee),
		Nonce:      intString(o.Nonce),
		Expiration: strconv.FormatUint(o.Expiration, 10),
		Side:       o.Side.String(),
	}
	if len(o.Signature) > 0 {
		p.Signature = "0x" + hex.EncodeToString(o.Signature)
	}
	return p
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash accepts a 0x-prefixed 32-byte hex order hash
func ParseHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("not a hex hash %q: %w", s, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash %q is %d bytes, want %d", s, len(raw), common.HashLength)
	}
	return common.BytesToHash(raw), nil
}

// ParseAmount parses a non-negative decimal integer
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	return v, nil
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
