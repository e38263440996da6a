// Package x402 implements the x402 HTTP payment protocol: gating HTTP
// resources behind stablecoin micropayments signed via EIP-3009
// transferWithAuthorization and exchanged through the PAYMENT-REQUIRED,
// PAYMENT-SIGNATURE and PAYMENT-RESPONSE headers.
package x402

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// ProtocolVersion is the x402 protocol generation this library produces.
	ProtocolVersion = 2

	// SchemeExact is the only payment scheme this library implements.
	SchemeExact = "exact"

	// DefaultMaxTimeoutSeconds bounds the validity window of a signed
	// authorization when the requirement does not specify one.
	DefaultMaxTimeoutSeconds = 300

	// DefaultTokenName and DefaultTokenVersion are the protocol-default
	// EIP-712 domain parameters used when neither the requirement's extra
	// metadata nor a caller override provides them.
	DefaultTokenName    = "USD Coin"
	DefaultTokenVersion = "2"

	// DefaultDecimals is the fixed decimal count assumed for tokens that do
	// not declare one (USDC-style six decimals).
	DefaultDecimals = 6
)

// Network is a CAIP-2 chain identifier, always "eip155:<evmChainId>" here.
type Network string

// Parse splits the network into its namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid CAIP-2 network: %q", string(n))
	}
	return parts[0], parts[1], nil
}

// ChainID extracts the EVM chain id from an eip155 network identifier.
func (n Network) ChainID() (int64, error) {
	namespace, reference, err := n.Parse()
	if err != nil {
		return 0, err
	}
	if namespace != "eip155" {
		return 0, fmt.Errorf("not an eip155 network: %q", string(n))
	}
	id, err := strconv.ParseInt(reference, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid eip155 chain id: %q", reference)
	}
	return id, nil
}

// ResourceInfo describes the resource a payment is demanded for.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirements is one concrete (network, token, amount, payee)
// combination a resource will accept as payment. Identity is the tuple
// (scheme, network, asset, payTo); amount and maxTimeoutSeconds are
// negotiable attributes, not identity.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Amount            string                 `json:"amount"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Name              string                 `json:"name,omitempty"`
	Version           string                 `json:"version,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// EIP3009Authorization is the signed transfer intent. Immutable after
// signing: the signature covers exactly this tuple under an EIP-712 domain
// keyed by (token name, token version, chainId, verifying contract).
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload carries the signature and authorization for the exact scheme.
type ExactPayload struct {
	Signature     string               `json:"signature"`
	Authorization EIP3009Authorization `json:"authorization"`
}

// PaymentPayload is the signed payment transmitted once in the
// PAYMENT-SIGNATURE header and consumed exactly once by the server.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Payload     ExactPayload           `json:"payload"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentRequired is the body of a 402 response, carried Base64URL-encoded
// in the PAYMENT-REQUIRED header.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyRequest is the body POSTed to a facilitator's /verify endpoint.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's verification result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest is the body POSTed to a facilitator's /settle endpoint.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse is the result of an attempted on-chain transfer. It is
// produced by the facilitator, never computed locally.
type SettleResponse struct {
	Success     bool    `json:"success"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	ErrorReason string  `json:"errorReason,omitempty"`
}

// SupportedKind is a single payment configuration a facilitator supports.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what a facilitator supports, including the
// opaque extension keys it can negotiate.
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions,omitempty"`
}
