// Package wire maps in-memory protocol objects to and from the strings
// carried in the x402 HTTP headers. Payloads travel as Base64URL-encoded
// JSON without padding; the decoder also accepts raw JSON and the two
// historical wire shapes (see legacy.go).
package wire

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// Protocol header names. Case-sensitive as produced, case-insensitive as
// HTTP requires on the consuming side.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
)

// Codec encodes and decodes x402 wire payloads. The registry supplies token
// decimals and network aliases needed to normalize legacy payloads.
type Codec struct {
	registry *x402.Registry
}

// NewCodec creates a codec backed by the given registry. A nil registry
// falls back to a fresh default registry.
func NewCodec(registry *x402.Registry) *Codec {
	if registry == nil {
		registry = x402.NewRegistry()
	}
	return &Codec{registry: registry}
}

// SafeBase64Encode encodes data as Base64URL with no padding. The output
// never contains '+', '/' or '='.
func SafeBase64Encode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// SafeBase64Decode decodes a Base64URL value, restoring padding
// (length mod 4) and the standard alphabet ('-' to '+', '_' to '/') first,
// so both URL-safe and standard encodings are accepted.
func SafeBase64Decode(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

// EncodePayment validates and serializes a payment payload for the
// PAYMENT-SIGNATURE header.
func (c *Codec) EncodePayment(p x402.PaymentPayload) (string, error) {
	if err := x402.ValidatePayload(p); err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "invalid payment payload", err)
	}
	if p.Accepted.Extra != nil {
		p.Accepted.Extra = NormalizeNumbers(p.Accepted.Extra).(map[string]interface{})
	}
	if p.Extensions != nil {
		p.Extensions = NormalizeNumbers(p.Extensions).(map[string]interface{})
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "failed to marshal payment payload", err)
	}
	return SafeBase64Encode(data), nil
}

// DecodePayment parses a PAYMENT-SIGNATURE header value. Raw JSON (value
// starting with '{') and Base64URL are both accepted. The current v2 shape
// is tried first; on structural mismatch each legacy detector runs in turn
// and, when one matches, the payload is converted to the current shape.
func (c *Codec) DecodePayment(value string) (x402.PaymentPayload, error) {
	data, err := headerBytes(value)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	return c.decodePayloadBytes(data)
}

func (c *Codec) decodePayloadBytes(data []byte) (x402.PaymentPayload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return x402.PaymentPayload{}, x402.WrapPaymentError(x402.ErrCodeFormat,
			"payment payload is not a JSON object", err)
	}

	switch detectPayloadFormat(probe) {
	case formatCurrent:
		if err := validateCurrentPayload(data); err != nil {
			return x402.PaymentPayload{}, err
		}
		var p x402.PaymentPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return x402.PaymentPayload{}, x402.WrapPaymentError(x402.ErrCodeFormat,
				"failed to unmarshal payment payload", err)
		}
		return p, nil
	case formatLegacyV1:
		return c.convertLegacyV1(data)
	case formatLegacyV2:
		return c.convertLegacyV2(data)
	default:
		return x402.PaymentPayload{}, x402.NewPaymentError(x402.ErrCodeFormat,
			"payment payload matches no known wire shape", nil)
	}
}

// DetectPaymentVersion returns the protocol generation a request speaks:
// 2 iff the PAYMENT-SIGNATURE header is present, 0 otherwise. Legacy
// payload shapes are normalized at decode time, so only the current
// generation is exposed downstream.
func (c *Codec) DetectPaymentVersion(h http.Header) int {
	if h.Get(HeaderPaymentSignature) != "" {
		return x402.ProtocolVersion
	}
	return 0
}

// EncodeRequired serializes a 402 payment-required body for the
// PAYMENT-REQUIRED header.
func (c *Codec) EncodeRequired(r x402.PaymentRequired) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "failed to marshal payment required", err)
	}
	return SafeBase64Encode(data), nil
}

// DecodeRequired parses a PAYMENT-REQUIRED header value (raw JSON or
// Base64URL).
func (c *Codec) DecodeRequired(value string) (x402.PaymentRequired, error) {
	data, err := headerBytes(value)
	if err != nil {
		return x402.PaymentRequired{}, err
	}
	var r x402.PaymentRequired
	if err := json.Unmarshal(data, &r); err != nil {
		return x402.PaymentRequired{}, x402.WrapPaymentError(x402.ErrCodeFormat,
			"failed to unmarshal payment required", err)
	}
	return r, nil
}

// EncodeSettlement serializes a settlement response for the
// PAYMENT-RESPONSE header.
func (c *Codec) EncodeSettlement(s x402.SettleResponse) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "failed to marshal settlement response", err)
	}
	return SafeBase64Encode(data), nil
}

// DecodeSettlement parses a PAYMENT-RESPONSE header value (raw JSON or
// Base64URL).
func (c *Codec) DecodeSettlement(value string) (x402.SettleResponse, error) {
	data, err := headerBytes(value)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	var s x402.SettleResponse
	if err := json.Unmarshal(data, &s); err != nil {
		return x402.SettleResponse{}, x402.WrapPaymentError(x402.ErrCodeFormat,
			"failed to unmarshal settlement response", err)
	}
	return s, nil
}

// headerBytes returns the JSON bytes of a header value that is either raw
// JSON or Base64URL-encoded JSON.
func headerBytes(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeFormat, "empty header value", nil)
	}
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}
	data, err := SafeBase64Decode(value)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeFormat, "invalid base64 encoding", err)
	}
	return data, nil
}

// NormalizeNumbers walks a decoded JSON value and renders any big-integer
// values as decimal strings, so re-encoding is stable regardless of how a
// caller populated extra/extension maps.
func NormalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case *big.Int:
		return t.String()
	case big.Int:
		return t.String()
	case json.Number:
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = NormalizeNumbers(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = NormalizeNumbers(val)
		}
		return out
	default:
		return v
	}
}
