package x402

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateRequirements performs basic validation on payment requirements.
func ValidateRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if _, _, err := r.Network.Parse(); err != nil {
		return err
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.Amount == "" {
		return fmt.Errorf("payment amount is required")
	}
	if !isDigits(r.Amount) {
		return fmt.Errorf("payment amount must be an atomic-unit integer string: %q", r.Amount)
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	return nil
}

// ValidateAuthorization checks the EIP-3009 tuple invariants: well-formed
// 20-byte addresses, a 32-byte nonce, and a non-negative validity window
// with validAfter strictly before validBefore.
func ValidateAuthorization(a EIP3009Authorization) error {
	if !IsHexAddress(a.From) {
		return fmt.Errorf("invalid from address: %q", a.From)
	}
	if !IsHexAddress(a.To) {
		return fmt.Errorf("invalid to address: %q", a.To)
	}
	if a.Value == "" || !isDigits(a.Value) {
		return fmt.Errorf("invalid value: %q", a.Value)
	}
	after, err := strconv.ParseInt(a.ValidAfter, 10, 64)
	if err != nil || after < 0 {
		return fmt.Errorf("invalid validAfter: %q", a.ValidAfter)
	}
	before, err := strconv.ParseInt(a.ValidBefore, 10, 64)
	if err != nil || before < 0 {
		return fmt.Errorf("invalid validBefore: %q", a.ValidBefore)
	}
	if after >= before {
		return fmt.Errorf("validAfter %d must precede validBefore %d", after, before)
	}
	if !IsHex32(a.Nonce) {
		return fmt.Errorf("invalid nonce: %q", a.Nonce)
	}
	return nil
}

// ValidatePayload performs basic validation on a full payment payload.
func ValidatePayload(p PaymentPayload) error {
	if p.X402Version != ProtocolVersion {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if err := ValidateRequirements(p.Accepted); err != nil {
		return fmt.Errorf("invalid accepted requirements: %w", err)
	}
	if p.Payload.Signature == "" || !isHexString(p.Payload.Signature) {
		return fmt.Errorf("invalid signature: %q", p.Payload.Signature)
	}
	return ValidateAuthorization(p.Payload.Authorization)
}

// IsHexAddress reports whether s is a well-formed 20-byte hex address.
func IsHexAddress(s string) bool {
	return isHexOfLen(s, 40)
}

// IsHex32 reports whether s is a well-formed 32-byte hex string.
func IsHex32(s string) bool {
	return isHexOfLen(s, 64)
}

func isHexOfLen(s string, digits int) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	body := s[2:]
	if len(body) != digits {
		return false
	}
	return isHexDigits(body)
}

func isHexString(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	return isHexDigits(s[2:])
}

func isHexDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
