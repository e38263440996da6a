package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// payloadFormat tags the wire shapes the decoder understands. Detection runs
// in a fixed priority order: the current shape first, then each legacy
// variant. No legacy shape's key set is a subset of another's, so first
// match is deterministic.
type payloadFormat int

const (
	formatUnknown payloadFormat = iota
	// formatCurrent is the x402 v2 shape: accepted + payload.signature as a
	// combined hex string.
	formatCurrent
	// formatLegacyV1 is the original flat shape: bare contractAddress and
	// symbolic network, with separate v/r/s signature fields.
	formatLegacyV1
	// formatLegacyV2 is the interim shape: chainId/assetId CAIP strings and
	// a nested signature:{v,r,s} object.
	formatLegacyV2
)

func detectPayloadFormat(probe map[string]json.RawMessage) payloadFormat {
	has := func(key string) bool {
		_, ok := probe[key]
		return ok
	}
	switch {
	case has("accepted"):
		return formatCurrent
	case has("contractAddress") && has("v") && has("r") && has("s"):
		return formatLegacyV1
	case has("chainId") && has("assetId"):
		return formatLegacyV2
	default:
		return formatUnknown
	}
}

// looseValue is a field legacy clients emitted as either a JSON number or
// a JSON string, including non-numeric strings such as hex nonces. It keeps
// whatever textual form arrived.
type looseValue string

func (v *looseValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = looseValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = looseValue(n.String())
	return nil
}

func (v looseValue) String() string { return string(v) }

// legacyV1Payload is the flat v1 wire shape. Loose fields arrived as JSON
// numbers or strings depending on the emitting client.
type legacyV1Payload struct {
	ContractAddress string     `json:"contractAddress"`
	Network         string     `json:"network"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Value           looseValue `json:"value"`
	ValidAfter      looseValue `json:"validAfter"`
	ValidBefore     looseValue `json:"validBefore"`
	Nonce           looseValue `json:"nonce"`
	V               looseValue `json:"v"`
	R               string     `json:"r"`
	S               string     `json:"s"`
}

// legacyV2Payload is the interim shape that adopted CAIP identifiers but
// kept the split signature triple.
type legacyV2Payload struct {
	ChainID       string                `json:"chainId"`
	AssetID       string                `json:"assetId"`
	PayTo         string                `json:"payTo"`
	Amount        looseValue            `json:"amount"`
	Signature     legacySignature       `json:"signature"`
	Authorization legacyV2Authorization `json:"authorization"`
}

type legacySignature struct {
	V looseValue `json:"v"`
	R string     `json:"r"`
	S string     `json:"s"`
}

type legacyV2Authorization struct {
	From        string     `json:"from"`
	To          string     `json:"to"`
	Value       looseValue `json:"value"`
	ValidAfter  looseValue `json:"validAfter"`
	ValidBefore looseValue `json:"validBefore"`
	Nonce       looseValue `json:"nonce"`
}

func (c *Codec) convertLegacyV1(data []byte) (x402.PaymentPayload, error) {
	var legacy legacyV1Payload
	if err := json.Unmarshal(data, &legacy); err != nil {
		return x402.PaymentPayload{}, x402.WrapPaymentError(x402.ErrCodeFormat,
			"failed to unmarshal legacy v1 payload", err)
	}

	network, err := c.registry.ResolveNetwork(legacy.Network)
	if err != nil {
		return x402.PaymentPayload{}, x402.WrapPaymentError(x402.ErrCodeFormat,
			fmt.Sprintf("legacy v1 payload references unknown network %q", legacy.Network), err)
	}

	decimals := x402.DefaultDecimals
	if token, ok := c.registry.TokenByAddress(network.Network, legacy.ContractAddress); ok {
		decimals = token.Decimals
	}
	amount, err := legacyAmount(legacy.Value, decimals)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := combineVRS(legacy.V, legacy.R, legacy.S)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	nonce, err := legacyNonce(legacy.Nonce)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Accepted: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           network.Network,
			Amount:            amount,
			Asset:             legacy.ContractAddress,
			PayTo:             legacy.To,
			MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
		},
		Payload: x402.ExactPayload{
			Signature: signature,
			Authorization: x402.EIP3009Authorization{
				From:        legacy.From,
				To:          legacy.To,
				Value:       amount,
				ValidAfter:  legacy.ValidAfter.String(),
				ValidBefore: legacy.ValidBefore.String(),
				Nonce:       nonce,
			},
		},
	}, nil
}

func (c *Codec) convertLegacyV2(data []byte) (x402.PaymentPayload, error) {
	var legacy legacyV2Payload
	if err := json.Unmarshal(data, &legacy); err != nil {
		return x402.PaymentPayload{}, x402.WrapPaymentError(x402.ErrCodeFormat,
			"failed to unmarshal legacy v2 payload", err)
	}

	network := x402.Network(legacy.ChainID)
	if _, _, err := network.Parse(); err != nil {
		return x402.PaymentPayload{}, x402.WrapPaymentError(x402.ErrCodeFormat,
			fmt.Sprintf("legacy v2 payload has invalid chainId %q", legacy.ChainID), err)
	}
	asset := legacy.AssetID
	if slash := strings.Index(asset, "/"); slash >= 0 {
		asset = strings.TrimPrefix(asset[slash+1:], "erc20:")
	}

	decimals := x402.DefaultDecimals
	if token, ok := c.registry.TokenByAddress(network, asset); ok {
		decimals = token.Decimals
	}

	value := legacy.Authorization.Value
	if value.String() == "" {
		value = legacy.Amount
	}
	amount, err := legacyAmount(value, decimals)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := combineVRS(legacy.Signature.V, legacy.Signature.R, legacy.Signature.S)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	nonce, err := legacyNonce(legacy.Authorization.Nonce)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	payTo := legacy.PayTo
	if payTo == "" {
		payTo = legacy.Authorization.To
	}

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Accepted: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           network,
			Amount:            amount,
			Asset:             asset,
			PayTo:             payTo,
			MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
		},
		Payload: x402.ExactPayload{
			Signature: signature,
			Authorization: x402.EIP3009Authorization{
				From:        legacy.Authorization.From,
				To:          legacy.Authorization.To,
				Value:       amount,
				ValidAfter:  legacy.Authorization.ValidAfter.String(),
				ValidBefore: legacy.Authorization.ValidBefore.String(),
				Nonce:       nonce,
			},
		},
	}, nil
}

// combineVRS concatenates a split signature triple into the combined hex
// form: 0x + r (32 bytes) + s (32 bytes) + v (1 byte).
func combineVRS(v looseValue, r, s string) (string, error) {
	rHex, err := pad32Hex(r)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "invalid signature r component", err)
	}
	sHex, err := pad32Hex(s)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "invalid signature s component", err)
	}
	vInt, err := strconv.ParseUint(v.String(), 10, 8)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "invalid signature v component", err)
	}
	return fmt.Sprintf("0x%s%s%02x", rHex, sHex, vInt), nil
}

func pad32Hex(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 64 {
		return "", fmt.Errorf("hex value must be 1-32 bytes, got %q", s)
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return "", fmt.Errorf("invalid hex value: %q", s)
		}
	}
	return strings.Repeat("0", 64-len(s)) + strings.ToLower(s), nil
}

// legacyAmount normalizes a legacy amount, which may be a human decimal
// ("1.5") or already atomic ("1500000"), into an atomic-unit integer string
// at the token's decimal count.
func legacyAmount(value looseValue, decimals int) (string, error) {
	s := value.String()
	if s == "" {
		return "", x402.NewPaymentError(x402.ErrCodeFormat, "legacy payload has no amount", nil)
	}
	if !strings.Contains(s, ".") {
		// Already an integer: treat as atomic units.
		return s, nil
	}
	atomic, err := x402.ToAtomicUnits(s, decimals)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "invalid legacy amount", err)
	}
	return atomic, nil
}

// legacyNonce renders a legacy nonce, numeric or hex, as zero-padded
// 32-byte hex.
func legacyNonce(nonce looseValue) (string, error) {
	s := nonce.String()
	if s == "" {
		return "", x402.NewPaymentError(x402.ErrCodeFormat, "legacy payload has no nonce", nil)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		padded, err := pad32Hex(s)
		if err != nil {
			return "", x402.WrapPaymentError(x402.ErrCodeFormat, "invalid legacy nonce", err)
		}
		return "0x" + padded, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeFormat, "invalid legacy nonce", err)
	}
	return fmt.Sprintf("0x%064x", n), nil
}
