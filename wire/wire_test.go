package wire

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	x402 "github.com/x402labs/x402-go"
)

func validPayload() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Accepted: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           "eip155:84532",
			Amount:            "1000000",
			Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			PayTo:             "0x1111111111111111111111111111111111111111",
			MaxTimeoutSeconds: 300,
		},
		Payload: x402.ExactPayload{
			Signature: "0x" + strings.Repeat("ab", 65),
			Authorization: x402.EIP3009Authorization{
				From:        "0x2222222222222222222222222222222222222222",
				To:          "0x1111111111111111111111111111111111111111",
				Value:       "1000000",
				ValidAfter:  "1700000000",
				ValidBefore: "1700000300",
				Nonce:       "0x" + strings.Repeat("11", 32),
			},
		},
	}
}

func TestEncodeDecodePaymentRoundTrip(t *testing.T) {
	codec := NewCodec(nil)
	original := validPayload()

	encoded, err := codec.EncodePayment(original)
	if err != nil {
		t.Fatalf("EncodePayment failed: %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("encoded value contains non-URL-safe characters: %q", encoded)
	}

	decoded, err := codec.DecodePayment(encoded)
	if err != nil {
		t.Fatalf("DecodePayment failed: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("payload changed across the wire (-want +got):\n%s", diff)
	}
}

func TestSafeBase64RestoresPadding(t *testing.T) {
	for _, input := range []string{"a", "ab", "abc", "abcd", "hello world", "\xff\xfe\xfd"} {
		encoded := SafeBase64Encode([]byte(input))
		if strings.ContainsAny(encoded, "+/=") {
			t.Errorf("SafeBase64Encode(%q) = %q contains unsafe characters", input, encoded)
		}
		decoded, err := SafeBase64Decode(encoded)
		if err != nil {
			t.Fatalf("SafeBase64Decode(%q) failed: %v", encoded, err)
		}
		if string(decoded) != input {
			t.Errorf("round trip of %q produced %q", input, decoded)
		}
	}
}

func TestDecodePaymentRawJSON(t *testing.T) {
	codec := NewCodec(nil)
	encoded, err := codec.EncodePayment(validPayload())
	if err != nil {
		t.Fatalf("EncodePayment failed: %v", err)
	}
	raw, err := SafeBase64Decode(encoded)
	if err != nil {
		t.Fatalf("SafeBase64Decode failed: %v", err)
	}

	decoded, err := codec.DecodePayment(string(raw))
	if err != nil {
		t.Fatalf("DecodePayment on raw JSON failed: %v", err)
	}
	if decoded.Accepted.Network != "eip155:84532" {
		t.Errorf("network mismatch: got %q", decoded.Accepted.Network)
	}
}

func TestDecodePaymentLegacyV1(t *testing.T) {
	codec := NewCodec(nil)
	legacy := `{
		"contractAddress": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"network": "base-sepolia",
		"from": "0x2222222222222222222222222222222222222222",
		"to": "0x1111111111111111111111111111111111111111",
		"value": "1.5",
		"validAfter": 1700000000,
		"validBefore": 1700000300,
		"nonce": 42,
		"v": 27,
		"r": "0x` + strings.Repeat("a", 63) + `",
		"s": "0x` + strings.Repeat("b", 64) + `"
	}`

	decoded, err := codec.DecodePayment(SafeBase64Encode([]byte(legacy)))
	if err != nil {
		t.Fatalf("DecodePayment on legacy v1 failed: %v", err)
	}
	if decoded.X402Version != x402.ProtocolVersion {
		t.Errorf("expected version %d, got %d", x402.ProtocolVersion, decoded.X402Version)
	}
	if decoded.Accepted.Network != "eip155:84532" {
		t.Errorf("network not upgraded to CAIP-2: got %q", decoded.Accepted.Network)
	}
	if decoded.Accepted.Amount != "1500000" {
		t.Errorf("decimal amount not converted to atomic units: got %q", decoded.Accepted.Amount)
	}
	sig := decoded.Payload.Signature
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("combined signature has wrong shape: %q", sig)
	}
	if !strings.HasSuffix(sig, "1b") {
		t.Errorf("v=27 should encode as trailing 1b, got %q", sig[len(sig)-2:])
	}
	if !strings.HasPrefix(sig[2:], "0"+strings.Repeat("a", 63)) {
		t.Errorf("r component not left-padded: %q", sig[2:66])
	}
	wantNonce := "0x" + strings.Repeat("0", 62) + "2a"
	if decoded.Payload.Authorization.Nonce != wantNonce {
		t.Errorf("numeric nonce not hex-padded: got %q, want %q", decoded.Payload.Authorization.Nonce, wantNonce)
	}
}

func TestDecodePaymentLegacyV2(t *testing.T) {
	codec := NewCodec(nil)
	legacy := `{
		"chainId": "eip155:8453",
		"assetId": "eip155:8453/erc20:0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"payTo": "0x1111111111111111111111111111111111111111",
		"signature": {"v": 28, "r": "0x` + strings.Repeat("c", 64) + `", "s": "0x` + strings.Repeat("d", 64) + `"},
		"authorization": {
			"from": "0x2222222222222222222222222222222222222222",
			"to": "0x1111111111111111111111111111111111111111",
			"value": "2500000",
			"validAfter": "1700000000",
			"validBefore": "1700000300",
			"nonce": "0x` + strings.Repeat("22", 32) + `"
		}
	}`

	decoded, err := codec.DecodePayment(SafeBase64Encode([]byte(legacy)))
	if err != nil {
		t.Fatalf("DecodePayment on legacy v2 failed: %v", err)
	}
	if decoded.Accepted.Asset != "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" {
		t.Errorf("asset id not stripped to address: got %q", decoded.Accepted.Asset)
	}
	if decoded.Accepted.Amount != "2500000" {
		t.Errorf("integer amount should pass through: got %q", decoded.Accepted.Amount)
	}
	if !strings.HasSuffix(decoded.Payload.Signature, "1c") {
		t.Errorf("v=28 should encode as trailing 1c, got %q", decoded.Payload.Signature)
	}
}

func TestDecodePaymentLegacyLooseFieldTypes(t *testing.T) {
	codec := NewCodec(nil)
	// Legacy emitters disagreed on whether loose fields were numbers or
	// strings; both forms must decode, including non-numeric hex strings.
	legacy := `{
		"chainId": "eip155:84532",
		"assetId": "eip155:84532/erc20:0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"amount": 1500000,
		"signature": {"v": "27", "r": "0x` + strings.Repeat("a", 64) + `", "s": "0x` + strings.Repeat("b", 64) + `"},
		"authorization": {
			"from": "0x2222222222222222222222222222222222222222",
			"to": "0x1111111111111111111111111111111111111111",
			"validAfter": 1700000000,
			"validBefore": "1700000300",
			"nonce": "42"
		}
	}`

	decoded, err := codec.DecodePayment(SafeBase64Encode([]byte(legacy)))
	if err != nil {
		t.Fatalf("DecodePayment on mixed-typed legacy v2 failed: %v", err)
	}
	if decoded.Accepted.Amount != "1500000" {
		t.Errorf("numeric amount should pass through: got %q", decoded.Accepted.Amount)
	}
	if !strings.HasSuffix(decoded.Payload.Signature, "1b") {
		t.Errorf("string v=27 should encode as trailing 1b, got %q", decoded.Payload.Signature)
	}
	if decoded.Payload.Authorization.ValidBefore != "1700000300" {
		t.Errorf("string validBefore mangled: %q", decoded.Payload.Authorization.ValidBefore)
	}
	wantNonce := "0x" + strings.Repeat("0", 62) + "2a"
	if decoded.Payload.Authorization.Nonce != wantNonce {
		t.Errorf("decimal string nonce not hex-padded: got %q, want %q", decoded.Payload.Authorization.Nonce, wantNonce)
	}
}

func TestDecodePaymentMalformed(t *testing.T) {
	codec := NewCodec(nil)
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bad base64", "!!!not-base64!!!"},
		{"bad json", SafeBase64Encode([]byte("{not json"))},
		{"unknown shape", SafeBase64Encode([]byte(`{"foo": "bar"}`))},
		{"legacy v1 bad network", SafeBase64Encode([]byte(`{"contractAddress":"0x0","network":"no-such-chain","v":27,"r":"0x1","s":"0x2"}`))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.DecodePayment(tc.input)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if code := x402.ErrorCode(err); code != x402.ErrCodeFormat {
				t.Errorf("expected %s, got %s", x402.ErrCodeFormat, code)
			}
		})
	}
}

func TestDetectPaymentVersion(t *testing.T) {
	codec := NewCodec(nil)

	h := http.Header{}
	if v := codec.DetectPaymentVersion(h); v != 0 {
		t.Errorf("expected 0 without payment header, got %d", v)
	}
	h.Set(HeaderPaymentSignature, "anything")
	if v := codec.DetectPaymentVersion(h); v != x402.ProtocolVersion {
		t.Errorf("expected %d with payment header, got %d", x402.ProtocolVersion, v)
	}
}
