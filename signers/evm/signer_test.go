package evm

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/eip712"
)

func testDomain() eip712.Domain {
	return eip712.Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func testAuthorization(from string) x402.EIP3009Authorization {
	return x402.EIP3009Authorization{
		From:        from,
		To:          "0x1111111111111111111111111111111111111111",
		Value:       "1000000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700000300",
		Nonce:       "0x" + strings.Repeat("11", 32),
	}
}

func TestNewSignerFromPrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyHex := hex.EncodeToString(crypto.FromECDSA(key))

	for _, input := range []string{keyHex, "0x" + keyHex} {
		signer, err := NewSignerFromPrivateKey(input)
		if err != nil {
			t.Fatalf("NewSignerFromPrivateKey(%q) failed: %v", input, err)
		}
		want := crypto.PubkeyToAddress(key.PublicKey).Hex()
		if signer.Address() != want {
			t.Errorf("address mismatch: got %s, want %s", signer.Address(), want)
		}
	}

	if _, err := NewSignerFromPrivateKey("0xnothex"); err == nil {
		t.Error("expected error for invalid key material")
	}
}

func TestSignAuthorizationRecoversToSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := NewSignerFromKey(key)
	auth := testAuthorization(signer.Address())

	sigHex, err := signer.SignAuthorization(context.Background(), testDomain(), auth)
	if err != nil {
		t.Fatalf("SignAuthorization failed: %v", err)
	}
	if !strings.HasPrefix(sigHex, "0x") || len(sigHex) != 132 {
		t.Fatalf("signature has wrong shape: %q", sigHex)
	}

	sig, err := hex.DecodeString(sigHex[2:])
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected v of 27 or 28, got %d", sig[64])
	}

	digest, err := eip712.HashTransferWithAuthorization(testDomain(), auth)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("failed to recover public key: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub).Hex(); recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered, signer.Address())
	}
}

func TestSignAuthorizationHonorsContext(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := NewSignerFromKey(key)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := signer.SignAuthorization(ctx, testDomain(), testAuthorization(signer.Address())); err == nil {
		t.Error("expected error from cancelled context")
	}
}
