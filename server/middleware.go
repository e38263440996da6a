package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/resolver"
	"github.com/x402labs/x402-go/wire"
)

type contextKey string

// PaymentContextKey holds the *x402.VerifyResponse of the verified payment
// in the request context seen by the inner handler.
const PaymentContextKey = contextKey("x402_payment")

// PaymentFromContext extracts the verified payment, or nil when the request
// was not payment-gated.
func PaymentFromContext(ctx context.Context) *x402.VerifyResponse {
	v, _ := ctx.Value(PaymentContextKey).(*x402.VerifyResponse)
	return v
}

// Middleware gates an http.Handler behind payment. Verification runs before
// the inner handler; settlement runs at the moment the handler commits a
// success status, so a handler error means the payment stays unsettled and
// money does not move.
func Middleware(cfg resolver.PaymentConfig, opts ...GatewayOption) (func(http.Handler) http.Handler, error) {
	gateway, err := NewGateway(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return gateway.Middleware(), nil
}

// Middleware returns the net/http adapter for this gateway.
func (g *Gateway) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := g.resource
			if resource == nil {
				resource = &x402.ResourceInfo{URL: requestURL(r)}
			}

			result, denial := g.Check(r.Context(), r.Header.Get(wire.HeaderPaymentSignature), resource)
			if denial != nil {
				writeDenial(w, denial)
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), PaymentContextKey, &result.Verify))

			interceptor := &settlementInterceptor{
				w: w,
				settle: func() bool {
					settlement, header, err := g.Settle(r.Context(), result)
					if err != nil {
						g.logger.Error("settlement failed after handler ran", "error", err)
						writeDenial(w, &Denial{
							Status: http.StatusBadGateway,
							Body: x402.WrapPaymentError(x402.ErrCodeSettlementRejected,
								"payment settlement failed", err),
						})
						return false
					}
					if !settlement.Success {
						g.logger.Warn("settlement unsuccessful", "reason", settlement.ErrorReason)
						writeDenial(w, &Denial{
							Status: http.StatusBadGateway,
							Body: x402.NewPaymentError(x402.ErrCodeSettlementRejected,
								settlement.ErrorReason, nil),
						})
						return false
					}
					w.Header().Set(wire.HeaderPaymentResponse, header)
					g.logger.Info("payment settled",
						"transaction", settlement.Transaction,
						"network", settlement.Network,
						"payer", settlement.Payer)
					return true
				},
				onSkip: func(status int) {
					g.logger.Warn("handler failed, payment left unsettled", "status", status)
				},
			}
			next.ServeHTTP(interceptor, r)
			// A handler that wrote nothing still succeeded; commit the
			// implicit 200 so settlement runs before net/http does.
			if !interceptor.committed {
				interceptor.WriteHeader(http.StatusOK)
			}
		})
	}
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func writeDenial(w http.ResponseWriter, denial *Denial) {
	for k, v := range denial.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(denial.Status)
	if denial.Body != nil {
		json.NewEncoder(w).Encode(denial.Body)
	}
}

// settlementInterceptor delays the handler's commit point: when the handler
// writes a success status the payment is settled first, and a settlement
// failure replaces the handler's response entirely. Error statuses pass
// through with settlement skipped.
type settlementInterceptor struct {
	w         http.ResponseWriter
	settle    func() bool
	onSkip    func(status int)
	committed bool
	replaced  bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if i.replaced {
		// Settlement failed and an error response was already written.
		// Discard the handler's payload to avoid a mixed body.
		return len(b), nil
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(status int) {
	if i.committed {
		return
	}
	i.committed = true

	if status >= 400 {
		if i.onSkip != nil {
			i.onSkip(status)
		}
		i.w.WriteHeader(status)
		return
	}

	if !i.settle() {
		i.replaced = true
		return
	}
	i.w.WriteHeader(status)
}

func (i *settlementInterceptor) Flush() {
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := i.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	// Settle before handing over the connection, e.g. WebSocket upgrades.
	if !i.committed {
		i.committed = true
		if !i.settle() {
			i.replaced = true
			return nil, nil, errors.New("payment settlement failed")
		}
	}
	return hijacker.Hijack()
}

func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
