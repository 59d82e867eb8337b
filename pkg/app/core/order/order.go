package order

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// NativeAsset is the reserved asset id of the chain's native coin
var NativeAsset = common.Address{}

// EncodedLength is the size of an order's canonical encoding
const EncodedLength = 5*common.AddressLength + 4*32 + 8 + 1

// Side of an order
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Status is the lifecycle state stored against an order hash
type Status uint8

const (
	StatusNew                Status = 0
	StatusPartiallyFilled    Status = 1
	StatusFilled             Status = 2
	StatusPartiallyCancelled Status = 3
	StatusCancelled          Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusPartiallyCancelled:
		return "partially_cancelled"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether s is a known status tag
func (s Status) Valid() bool { return s <= StatusCancelled }

// Cancelled reports whether s blocks further fills
func (s Status) Cancelled() bool {
	return s == StatusCancelled || s == StatusPartiallyCancelled
}

// Order is a signed off-chain intent to trade. It is never stored; only
// state derived from its hash is.
type Order struct {
	Sender     common.Address // owner
	Matcher    common.Address // only address allowed to settle this order
	BaseAsset  common.Address
	QuoteAsset common.Address
	FeeAsset   common.Address
	Amount     *big.Int // base units
	Price      *big.Int // quote units per base unit
	MatcherFee *big.Int // max fee over the whole order, in FeeAsset
	Nonce      *big.Int
	Expiration uint64 // unix seconds
	Side       Side
	Signature  []byte // 65-byte [R || S || V], not part of the encoding
}

// Trade is one fill recorded against an order hash
type Trade struct {
	Price     *big.Int
	Amount    *big.Int
	Fee       *big.Int
	Timestamp uint64
}

// Encode returns the canonical encoding:
//
//	sender | matcher | base | quote | fee | amount | price | matcherFee | nonce | expiration | side
//
// Addresses are 20 bytes, quantities 32-byte big-endian, expiration 8 bytes.
func (o *Order) Encode() ([]byte, error) {
	if o.Side != Buy && o.Side != Sell {
		return nil, fmt.Errorf("%w: unknown side %d", ErrEncoding, o.Side)
	}

	out := make([]byte, 0, EncodedLength)
	out = append(out, o.Sender.Bytes()...)
	out = append(out, o.Matcher.Bytes()...)
	out = append(out, o.BaseAsset.Bytes()...)
	out = append(out, o.QuoteAsset.Bytes()...)
	out = append(out, o.FeeAsset.Bytes()...)

	for _, q := range []struct {
		name string
		v    *big.Int
	}{
		{"amount", o.Amount},
		{"price", o.Price},
		{"matcher_fee", o.MatcherFee},
		{"nonce", o.Nonce},
	} {
		word, err := encodeWord(q.v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrEncoding, q.name, err)
		}
		out = append(out, word[:]...)
	}

	out = binary.BigEndian.AppendUint64(out, o.Expiration)
	out = append(out, byte(o.Side))
	return out, nil
}

// Hash returns keccak256 of the canonical encoding
func (o *Order) Hash() (common.Hash, error) {
	enc, err := o.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(enc)
	return common.BytesToHash(h.Sum(nil)), nil
}

// MustHash is Hash for orders already known to encode
func (o *Order) MustHash() common.Hash {
	h, err := o.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

func encodeWord(v *big.Int) ([32]byte, error) {
	if v == nil {
		return [32]byte{}, fmt.Errorf("missing value")
	}
	if v.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("negative value %s", v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, fmt.Errorf("value exceeds 256 bits")
	}
	return u.Bytes32(), nil
}

// Copy returns a deep copy of o
func (o *Order) Copy() *Order {
	c := *o
	c.Amount = copyInt(o.Amount)
	c.Price = copyInt(o.Price)
	c.MatcherFee = copyInt(o.MatcherFee)
	c.Nonce = copyInt(o.Nonce)
	if o.Signature != nil {
		c.Signature = append([]byte(nil), o.Signature...)
	}
	return &c
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
