package wire

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402labs/x402-go"
)

// paymentPayloadSchema validates the structure of a current-format payment
// payload before unmarshaling. Field-level semantic checks (hex lengths,
// time window ordering) happen afterward in ValidatePayload.
const paymentPayloadSchema = `{
  "type": "object",
  "required": ["x402Version", "accepted", "payload"],
  "properties": {
    "x402Version": {"type": "integer"},
    "accepted": {
      "type": "object",
      "required": ["scheme", "network", "amount", "asset", "payTo"],
      "properties": {
        "scheme": {"type": "string"},
        "network": {"type": "string"},
        "amount": {"type": "string"},
        "asset": {"type": "string"},
        "payTo": {"type": "string"},
        "maxTimeoutSeconds": {"type": "integer"}
      }
    },
    "payload": {
      "type": "object",
      "required": ["signature", "authorization"],
      "properties": {
        "signature": {"type": "string"},
        "authorization": {
          "type": "object",
          "required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
          "properties": {
            "from": {"type": "string"},
            "to": {"type": "string"},
            "value": {"type": "string"},
            "validAfter": {"type": "string"},
            "validBefore": {"type": "string"},
            "nonce": {"type": "string"}
          }
        }
      }
    }
  }
}`

var compiledPayloadSchema = gojsonschema.NewStringLoader(paymentPayloadSchema)

func validateCurrentPayload(data []byte) error {
	result, err := gojsonschema.Validate(compiledPayloadSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return x402.WrapPaymentError(x402.ErrCodeFormat, "payload schema validation failed", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return x402.NewPaymentError(x402.ErrCodeFormat,
		fmt.Sprintf("payload does not match expected structure: %s", strings.Join(problems, "; ")), nil)
}
