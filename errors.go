package x402

import (
	"errors"
	"fmt"
)

// PaymentError is the structured error type used across the library. Code is
// a stable machine-readable identifier; Message is human-readable.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Stable error codes.
const (
	// ErrCodeFormat covers malformed wire bytes: bad base64, bad JSON, or a
	// structure matching no known payload shape.
	ErrCodeFormat = "format_error"

	// Resolver input errors, aggregated rather than short-circuited.
	ErrCodeUnknownNetwork    = "unknown_network"
	ErrCodeUnknownToken      = "unknown_token"
	ErrCodeTokenNotOnNetwork = "token_not_on_network"

	// ErrCodeProtocol covers a missing or malformed required header.
	ErrCodeProtocol = "protocol_error"

	// ErrCodeHookContractViolation is returned when a client hook produces a
	// value outside its allowed domain.
	ErrCodeHookContractViolation = "hook_contract_violation"

	// ErrCodeSettlementDecode covers a missing or undecodable
	// PAYMENT-RESPONSE header on an otherwise successful retry.
	ErrCodeSettlementDecode = "settlement_decode_error"

	// ErrCodeConfiguration is a server misconfiguration: zero valid
	// requirements resolved, or no facilitator URL resolvable. Always a
	// 500-class condition, never a 402.
	ErrCodeConfiguration = "configuration_error"

	// ErrCodeInvalidPayload is a client-caused 400: the PAYMENT-SIGNATURE
	// header decoded to nothing this server offered, or not at all.
	ErrCodeInvalidPayload = "invalid_payload"

	// Facilitator-reported business failures. Returned as structured values
	// on the success path so callers can branch, never thrown there.
	ErrCodeVerificationRejected = "verification_rejected"
	ErrCodeSettlementRejected   = "settlement_rejected"

	// ErrCodeFacilitatorUnavailable is a transport or server failure talking
	// to the facilitator, as opposed to a facilitator-reported rejection.
	ErrCodeFacilitatorUnavailable = "facilitator_unavailable"
)

// NewPaymentError creates a PaymentError with the given code and message.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{Code: code, Message: message, Details: details}
}

// WrapPaymentError creates a PaymentError wrapping an underlying cause.
func WrapPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the stable code from an error, or "" if no PaymentError
// is found in its chain.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
