// Package ginx402 adapts the payment gateway to Gin's handler chain.
package ginx402

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/resolver"
	"github.com/x402labs/x402-go/server"
	"github.com/x402labs/x402-go/wire"
)

// PaymentContextKey is the gin context key holding the *x402.VerifyResponse
// of the verified payment.
const PaymentContextKey = "x402_payment"

// PaymentMiddleware gates the route group behind payment. Configuration is
// resolved eagerly; a misconfigured server fails at startup, not per
// request.
func PaymentMiddleware(cfg resolver.PaymentConfig, opts ...server.GatewayOption) (gin.HandlerFunc, error) {
	gateway, err := server.NewGateway(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return Handler(gateway), nil
}

// Handler wraps an existing gateway as a gin middleware.
func Handler(gateway *server.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme := "https"
		if c.Request.TLS == nil {
			scheme = "http"
		}
		resource := &x402.ResourceInfo{URL: scheme + "://" + c.Request.Host + c.Request.URL.Path}

		result, denial := gateway.Check(c.Request.Context(), c.GetHeader(wire.HeaderPaymentSignature), resource)
		if denial != nil {
			abortWithDenial(c, denial)
			return
		}
		c.Set(PaymentContextKey, &result.Verify)

		// Buffer the handler's response so settlement can run before any
		// byte reaches the client.
		capture := &bufferingWriter{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = capture
		c.Next()
		c.Writer = capture.ResponseWriter

		if c.IsAborted() || capture.status >= 400 {
			capture.flush()
			return
		}

		settlement, header, err := gateway.Settle(c.Request.Context(), result)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error": "payment settlement failed",
				"code":  x402.ErrCodeSettlementRejected,
			})
			return
		}
		if !settlement.Success {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error": settlement.ErrorReason,
				"code":  x402.ErrCodeSettlementRejected,
			})
			return
		}

		c.Header(wire.HeaderPaymentResponse, header)
		capture.flush()
	}
}

// PaymentFromContext extracts the verified payment from a gin context.
func PaymentFromContext(c *gin.Context) *x402.VerifyResponse {
	if v, ok := c.Get(PaymentContextKey); ok {
		if resp, ok := v.(*x402.VerifyResponse); ok {
			return resp
		}
	}
	return nil
}

func abortWithDenial(c *gin.Context, denial *server.Denial) {
	for k, v := range denial.Headers {
		c.Header(k, v)
	}
	c.AbortWithStatusJSON(denial.Status, denial.Body)
}

type bufferingWriter struct {
	gin.ResponseWriter
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

func (w *bufferingWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *bufferingWriter) Status() int {
	return w.status
}

func (w *bufferingWriter) flush() {
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		w.ResponseWriter.Write([]byte(w.body.String()))
	}
}
