package x402

import (
	"strings"
	"testing"
)

func validAuthorization() EIP3009Authorization {
	return EIP3009Authorization{
		From:        "0x2222222222222222222222222222222222222222",
		To:          "0x1111111111111111111111111111111111111111",
		Value:       "1000000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700000300",
		Nonce:       "0x" + strings.Repeat("11", 32),
	}
}

func TestValidateAuthorization(t *testing.T) {
	if err := ValidateAuthorization(validAuthorization()); err != nil {
		t.Fatalf("valid authorization rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*EIP3009Authorization)
	}{
		{"short from address", func(a *EIP3009Authorization) { a.From = "0x1234" }},
		{"missing hex prefix", func(a *EIP3009Authorization) { a.To = strings.Repeat("11", 20) }},
		{"non-integer value", func(a *EIP3009Authorization) { a.Value = "1.5" }},
		{"inverted window", func(a *EIP3009Authorization) { a.ValidAfter, a.ValidBefore = a.ValidBefore, a.ValidAfter }},
		{"equal window bounds", func(a *EIP3009Authorization) { a.ValidBefore = a.ValidAfter }},
		{"short nonce", func(a *EIP3009Authorization) { a.Nonce = "0x11" }},
		{"negative validAfter", func(a *EIP3009Authorization) { a.ValidAfter = "-1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := validAuthorization()
			tt.mutate(&auth)
			if err := ValidateAuthorization(auth); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestValidateRequirements(t *testing.T) {
	valid := PaymentRequirements{
		Scheme:  SchemeExact,
		Network: "eip155:8453",
		Amount:  "1000000",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:   "0x1111111111111111111111111111111111111111",
	}
	if err := ValidateRequirements(valid); err != nil {
		t.Fatalf("valid requirements rejected: %v", err)
	}

	decimal := valid
	decimal.Amount = "1.5"
	if err := ValidateRequirements(decimal); err == nil {
		t.Error("decimal amount should be rejected at this layer")
	}

	badNetwork := valid
	badNetwork.Network = "nonsense"
	if err := ValidateRequirements(badNetwork); err == nil {
		t.Error("malformed network should be rejected")
	}
}

func TestValidatePayload(t *testing.T) {
	payload := PaymentPayload{
		X402Version: ProtocolVersion,
		Accepted: PaymentRequirements{
			Scheme:  SchemeExact,
			Network: "eip155:8453",
			Amount:  "1000000",
			Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			PayTo:   "0x1111111111111111111111111111111111111111",
		},
		Payload: ExactPayload{
			Signature:     "0x" + strings.Repeat("ab", 65),
			Authorization: validAuthorization(),
		},
	}
	if err := ValidatePayload(payload); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	payload.X402Version = 1
	if err := ValidatePayload(payload); err == nil {
		t.Error("wrong protocol version should be rejected")
	}
}
