package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/crypto"
)

// Validator checks single orders and matched pairs
type Validator struct {
	signer         *crypto.EIP712Signer
	skipSignatures bool
}

// Option configures a Validator
type Option func(*Validator)

// WithoutSignatures disables signature checks. Devnet and tests only.
func WithoutSignatures() Option {
	return func(v *Validator) { v.skipSignatures = true }
}

// NewValidator creates a validator for orders signed under domain
func NewValidator(domain crypto.EIP712Domain, opts ...Option) (*Validator, error) {
	signer, err := crypto.NewEIP712Signer(domain)
	if err != nil {
		return nil, err
	}
	v := &Validator{signer: signer}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Signer returns the EIP-712 signer used for verification
func (v *Validator) Signer() *crypto.EIP712Signer { return v.signer }

// RequiresSignatures reports whether signatures are checked
func (v *Validator) RequiresSignatures() bool { return !v.skipSignatures }

// Validate checks structural sanity and that Signature was made by Sender
func (v *Validator) Validate(o *Order) error {
	if o == nil {
		return fmt.Errorf("%w: missing order", ErrInvalidOrder)
	}
	if o.Sender == (common.Address{}) {
		return fmt.Errorf("%w: zero sender", ErrInvalidOrder)
	}
	if o.Matcher == (common.Address{}) {
		return fmt.Errorf("%w: zero matcher", ErrInvalidOrder)
	}
	if o.BaseAsset == o.QuoteAsset {
		return fmt.Errorf("%w: base and quote asset are the same", ErrInvalidOrder)
	}
	if !positive(o.Amount) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if !positive(o.Price) {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if o.MatcherFee == nil || o.MatcherFee.Sign() < 0 {
		return fmt.Errorf("%w: matcher fee must not be negative", ErrInvalidOrder)
	}

	hash, err := o.Hash()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	if v.skipSignatures {
		return nil
	}
	if len(o.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: signature must be %d bytes, got %d", ErrInvalidOrder, crypto.SignatureLength, len(o.Signature))
	}
	ok, err := v.signer.VerifyOrderSignature(hash, o.Signature, o.Sender)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !ok {
		return fmt.Errorf("%w: signature does not match sender", ErrInvalidOrder)
	}
	return nil
}

// CheckMatchedPair enforces the pairing rules before any state is touched.
// Fill sizes are compared with order totals here; cumulative fills are
// checked by the settlement engine against stored trades.
func (v *Validator) CheckMatchedPair(buy, sell *Order, submitter common.Address, filledAmount, filledPrice *big.Int, now uint64) error {
	if err := v.Validate(buy); err != nil {
		return fmt.Errorf("buy order: %w", err)
	}
	if err := v.Validate(sell); err != nil {
		return fmt.Errorf("sell order: %w", err)
	}
	if buy.Side != Buy {
		return fmt.Errorf("%w: buy order has side %s", ErrInvalidOrder, buy.Side)
	}
	if sell.Side != Sell {
		return fmt.Errorf("%w: sell order has side %s", ErrInvalidOrder, sell.Side)
	}
	if submitter != buy.Matcher || submitter != sell.Matcher {
		return fmt.Errorf("%w: submitter %s is not the matcher of both orders", ErrInvalidOrder, submitter.Hex())
	}
	if buy.BaseAsset != sell.BaseAsset || buy.QuoteAsset != sell.QuoteAsset {
		return fmt.Errorf("%w: orders trade different markets", ErrInvalidOrder)
	}
	if !positive(filledAmount) {
		return fmt.Errorf("%w: filled amount must be positive", ErrInvalidOrder)
	}
	if !positive(filledPrice) {
		return fmt.Errorf("%w: filled price must be positive", ErrInvalidOrder)
	}
	if filledAmount.Cmp(buy.Amount) > 0 {
		return fmt.Errorf("%w: filled amount %s exceeds buy amount %s", ErrInvalidOrder, filledAmount, buy.Amount)
	}
	if filledAmount.Cmp(sell.Amount) > 0 {
		return fmt.Errorf("%w: filled amount %s exceeds sell amount %s", ErrInvalidOrder, filledAmount, sell.Amount)
	}
	if filledPrice.Cmp(buy.Price) > 0 {
		return fmt.Errorf("%w: filled price %s above buy limit %s", ErrInvalidOrder, filledPrice, buy.Price)
	}
	if filledPrice.Cmp(sell.Price) < 0 {
		return fmt.Errorf("%w: filled price %s below sell limit %s", ErrInvalidOrder, filledPrice, sell.Price)
	}
	if buy.Expiration < now {
		return fmt.Errorf("%w: buy order expired at %d", ErrOrderExpired, buy.Expiration)
	}
	if sell.Expiration < now {
		return fmt.Errorf("%w: sell order expired at %d", ErrOrderExpired, sell.Expiration)
	}
	return nil
}

// Sign fills o.Signature using signer. The signer must be o.Sender.
func (v *Validator) Sign(o *Order, signer *crypto.Signer) error {
	hash, err := o.Hash()
	if err != nil {
		return err
	}
	sig, err := v.signer.SignOrderHash(signer, hash)
	if err != nil {
		return err
	}
	o.Signature = sig
	return nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
