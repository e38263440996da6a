// Package evm provides an ECDSA private-key signer for EIP-3009 payment
// authorizations.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/eip712"
)

// Signer signs transferWithAuthorization digests with a local private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSignerFromPrivateKey creates a signer from a hex-encoded private key,
// with or without a 0x prefix.
func NewSignerFromPrivateKey(privateKeyHex string) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSignerFromKey(privateKey), nil
}

// NewSignerFromKey wraps an already-parsed ECDSA key.
func NewSignerFromKey(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the checksummed Ethereum address of the signing key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignAuthorization hashes the authorization under the given EIP-712 domain
// and signs the digest. The result is the 0x-prefixed 65-byte (r, s, v)
// signature with v adjusted to 27/28 as token contracts expect.
func (s *Signer) SignAuthorization(ctx context.Context, domain eip712.Domain, auth x402.EIP3009Authorization) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	digest, err := eip712.HashTransferWithAuthorization(domain, auth)
	if err != nil {
		return "", fmt.Errorf("failed to hash authorization: %w", err)
	}
	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	// Recovery id 0/1 becomes 27/28.
	signature[64] += 27
	return "0x" + hex.EncodeToString(signature), nil
}
