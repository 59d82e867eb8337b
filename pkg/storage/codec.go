package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// EncodeRLP serializes a stored value. Values persisted by contracts are
// RLP so that big integers and lists have one canonical byte form.
func EncodeRLP(v any) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("failed to rlp-encode %T: %w", v, err)
	}
	return b, nil
}

// DecodeRLP parses a value written by EncodeRLP.
func DecodeRLP(b []byte, v any) error {
	if err := rlp.DecodeBytes(b, v); err != nil {
		return fmt.Errorf("failed to rlp-decode %T: %w", v, err)
	}
	return nil
}
