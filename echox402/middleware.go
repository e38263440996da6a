// Package echox402 adapts the payment gateway to Echo's middleware chain.
package echox402

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/resolver"
	"github.com/x402labs/x402-go/server"
	"github.com/x402labs/x402-go/wire"
)

// PaymentContextKey is the echo context key holding the
// *x402.VerifyResponse of the verified payment.
const PaymentContextKey = "x402_payment"

// PaymentMiddleware gates routes behind payment. Configuration is resolved
// eagerly; a misconfigured server fails at startup, not per request.
func PaymentMiddleware(cfg resolver.PaymentConfig, opts ...server.GatewayOption) (echo.MiddlewareFunc, error) {
	gateway, err := server.NewGateway(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return Handler(gateway), nil
}

// Handler wraps an existing gateway as an echo middleware.
func Handler(gateway *server.Gateway) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			scheme := "https"
			if req.TLS == nil {
				scheme = "http"
			}
			resource := &x402.ResourceInfo{URL: scheme + "://" + req.Host + req.URL.Path}

			result, denial := gateway.Check(req.Context(), req.Header.Get(wire.HeaderPaymentSignature), resource)
			if denial != nil {
				return sendDenial(c, denial)
			}
			c.Set(PaymentContextKey, &result.Verify)

			// Buffer the handler's response so settlement can run before
			// any byte reaches the client.
			capture := &bufferingWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = capture
			err := next(c)
			c.Response().Writer = capture.ResponseWriter

			if err != nil {
				if capture.written {
					capture.flush()
				}
				return err
			}
			if capture.status >= 400 {
				capture.flush()
				return nil
			}

			settlement, header, settleErr := gateway.Settle(req.Context(), result)
			if settleErr != nil {
				return writeSettlementFailure(capture.ResponseWriter, "payment settlement failed")
			}
			if !settlement.Success {
				return writeSettlementFailure(capture.ResponseWriter, settlement.ErrorReason)
			}

			c.Response().Header().Set(wire.HeaderPaymentResponse, header)
			capture.flush()
			return nil
		}
	}
}

// PaymentFromContext extracts the verified payment from an echo context.
func PaymentFromContext(c echo.Context) *x402.VerifyResponse {
	if resp, ok := c.Get(PaymentContextKey).(*x402.VerifyResponse); ok {
		return resp
	}
	return nil
}

// writeSettlementFailure bypasses echo's committed-response tracking, which
// the handler may already have tripped while writing into the buffer.
func writeSettlementFailure(w http.ResponseWriter, reason string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	return json.NewEncoder(w).Encode(map[string]string{
		"error": reason,
		"code":  x402.ErrCodeSettlementRejected,
	})
}

func sendDenial(c echo.Context, denial *server.Denial) error {
	for k, v := range denial.Headers {
		c.Response().Header().Set(k, v)
	}
	return c.JSON(denial.Status, denial.Body)
}

type bufferingWriter struct {
	http.ResponseWriter
	body    strings.Builder
	status  int
	written bool
}

func (w *bufferingWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
}

func (w *bufferingWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *bufferingWriter) flush() {
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		w.ResponseWriter.Write([]byte(w.body.String()))
	}
}
