package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator input for order signatures.
// It binds a signature to one exchange deployment on one chain.
type EIP712Domain struct {
	Name              string         // Protocol name
	Version           string         // Protocol version
	ChainID           *big.Int       // 1337 for devnet
	VerifyingContract common.Address // Exchange contract address
}

// DefaultDomain returns the devnet domain for the given exchange address
func DefaultDomain(exchange common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "Orionex",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: exchange,
	}
}

// EIP712Signer signs and verifies order hashes under a fixed domain.
// The signed digest is keccak256("\x19\x01" || domainSeparator || orderHash),
// where orderHash is the keccak256 of the order's canonical encoding.
type EIP712Signer struct {
	domain    EIP712Domain
	separator []byte
}

// NewEIP712Signer computes the domain separator once
func NewEIP712Signer(domain EIP712Domain) (*EIP712Signer, error) {
	if domain.ChainID == nil {
		return nil, fmt.Errorf("domain chain id is required")
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
		},
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
	}

	separator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	return &EIP712Signer{domain: domain, separator: separator}, nil
}

// Domain returns the signing domain
func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// Digest returns the 32-byte value that is actually signed for orderHash
func (e *EIP712Signer) Digest(orderHash common.Hash) common.Hash {
	raw := make([]byte, 0, 2+len(e.separator)+common.HashLength)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, e.separator...)
	raw = append(raw, orderHash.Bytes()...)
	return crypto.Keccak256Hash(raw)
}

// SignOrderHash signs an order hash with signer
func (e *EIP712Signer) SignOrderHash(signer *Signer, orderHash common.Hash) ([]byte, error) {
	digest := e.Digest(orderHash)
	signature, err := signer.Sign(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return signature, nil
}

// RecoverOrderSigner recovers the address that signed orderHash
func (e *EIP712Signer) RecoverOrderSigner(orderHash common.Hash, signature []byte) (common.Address, error) {
	digest := e.Digest(orderHash)
	return RecoverAddress(digest.Bytes(), signature)
}

// VerifyOrderSignature reports whether signature over orderHash was made by owner
func (e *EIP712Signer) VerifyOrderSignature(orderHash common.Hash, signature []byte, owner common.Address) (bool, error) {
	recovered, err := e.RecoverOrderSigner(orderHash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == owner, nil
}
