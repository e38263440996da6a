package ginx402

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/client"
	"github.com/x402labs/x402-go/eip712"
	"github.com/x402labs/x402-go/resolver"
	"github.com/x402labs/x402-go/server"
	"github.com/x402labs/x402-go/wire"
)

type stubSigner struct{}

func (stubSigner) Address() string { return "0x2222222222222222222222222222222222222222" }

func (stubSigner) SignAuthorization(ctx context.Context, domain eip712.Domain, auth x402.EIP3009Authorization) (string, error) {
	return "0x" + strings.Repeat("ab", 65), nil
}

type mockFacilitator struct {
	server   *httptest.Server
	settleOK bool
	verifies int
	settles  int
}

func newMockFacilitator(t *testing.T) *mockFacilitator {
	m := &mockFacilitator{settleOK: true}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			m.verifies++
			var req x402.VerifyRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(x402.VerifyResponse{
				IsValid: true,
				Payer:   req.PaymentPayload.Payload.Authorization.From,
			})
		case "/settle":
			m.settles++
			var req x402.SettleRequest
			json.NewDecoder(r.Body).Decode(&req)
			resp := x402.SettleResponse{
				Success:     m.settleOK,
				Network:     req.PaymentRequirements.Network,
				Transaction: "0xsettled",
				Payer:       req.PaymentPayload.Payload.Authorization.From,
			}
			if !m.settleOK {
				resp.Transaction = ""
				resp.ErrorReason = "insufficient_funds"
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(m.server.Close)
	return m
}

func paidRouter(t *testing.T, facilitatorURL string, handler gin.HandlerFunc) (*httptest.Server, *server.Gateway) {
	gin.SetMode(gin.TestMode)
	gateway, err := server.NewGateway(resolver.PaymentConfig{
		PayTo:          "0x1111111111111111111111111111111111111111",
		Chain:          "base-sepolia",
		Amount:         "1.0",
		FacilitatorURL: facilitatorURL,
	})
	if err != nil {
		t.Fatal(err)
	}
	router := gin.New()
	router.GET("/premium", Handler(gateway), handler)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, gateway
}

func signedHeader(t *testing.T, requirement x402.PaymentRequirements) string {
	t.Helper()
	payload := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Accepted:    requirement,
		Payload: x402.ExactPayload{
			Signature: "0x" + strings.Repeat("ab", 65),
			Authorization: x402.EIP3009Authorization{
				From:        "0x2222222222222222222222222222222222222222",
				To:          requirement.PayTo,
				Value:       requirement.Amount,
				ValidAfter:  "1700000000",
				ValidBefore: "1700000300",
				Nonce:       "0x" + strings.Repeat("11", 32),
			},
		},
	}
	header, err := wire.NewCodec(nil).EncodePayment(payload)
	if err != nil {
		t.Fatal(err)
	}
	return header
}

func TestGinFullPaymentFlow(t *testing.T) {
	facilitator := newMockFacilitator(t)
	ts, _ := paidRouter(t, facilitator.server.URL, func(c *gin.Context) {
		if PaymentFromContext(c) == nil {
			t.Error("handler ran without verified payment in context")
		}
		c.String(http.StatusOK, "premium content")
	})

	payer := client.New(stubSigner{})
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/premium", nil)
	resp, err := payer.Do(req)
	if err != nil {
		t.Fatalf("paid request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "premium content" {
		t.Errorf("unexpected body: %q", body)
	}
	if _, err := wire.NewCodec(nil).DecodeSettlement(resp.Header.Get(wire.HeaderPaymentResponse)); err != nil {
		t.Fatalf("PAYMENT-RESPONSE missing or undecodable: %v", err)
	}
	if facilitator.verifies != 1 || facilitator.settles != 1 {
		t.Errorf("expected one verify and one settle, got %d/%d", facilitator.verifies, facilitator.settles)
	}
}

func TestGinUnpaidRequestGets402(t *testing.T) {
	facilitator := newMockFacilitator(t)
	ts, _ := paidRouter(t, facilitator.server.URL, func(c *gin.Context) {
		t.Error("handler must not run without payment")
	})

	resp, err := http.Get(ts.URL + "/premium")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	required, err := wire.NewCodec(nil).DecodeRequired(resp.Header.Get(wire.HeaderPaymentRequired))
	if err != nil {
		t.Fatalf("PAYMENT-REQUIRED missing or undecodable: %v", err)
	}
	if len(required.Accepts) != 1 {
		t.Errorf("expected one accepted requirement, got %d", len(required.Accepts))
	}
}

func TestGinHandlerErrorSkipsSettlement(t *testing.T) {
	facilitator := newMockFacilitator(t)
	ts, gateway := paidRouter(t, facilitator.server.URL, func(c *gin.Context) {
		c.String(http.StatusInternalServerError, "boom")
	})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/premium", nil)
	req.Header.Set(wire.HeaderPaymentSignature, signedHeader(t, gateway.Requirements()[0]))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if facilitator.settles != 0 {
		t.Errorf("settlement must not run after a handler error, ran %d times", facilitator.settles)
	}
}

func TestGinSettlementFailureBecomes502(t *testing.T) {
	facilitator := newMockFacilitator(t)
	facilitator.settleOK = false
	ts, gateway := paidRouter(t, facilitator.server.URL, func(c *gin.Context) {
		c.String(http.StatusOK, "should never be seen")
	})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/premium", nil)
	req.Header.Set(wire.HeaderPaymentSignature, signedHeader(t, gateway.Requirements()[0]))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "should never be seen") {
		t.Error("handler body leaked past a failed settlement")
	}
}
