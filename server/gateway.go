// Package server implements the resource-server side of the x402 protocol:
// a verification and settlement gateway plus net/http middleware around it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/facilitator"
	"github.com/x402labs/x402-go/resolver"
	"github.com/x402labs/x402-go/wire"
)

// Gateway is the framework-agnostic core of the payment middleware. It is
// stateless per request: the requirement set is resolved once at
// construction and the only shared mutable state is the capability cache.
type Gateway struct {
	config       resolver.PaymentConfig
	resolver     *resolver.Resolver
	requirements []x402.PaymentRequirements
	codec        *wire.Codec
	cache        *CapabilityCache
	logger       *slog.Logger
	extensions   map[string]interface{}
	resource     *x402.ResourceInfo
	verifyOnly   bool

	clientsMu sync.Mutex
	clients   map[string]*facilitator.Client
	clientFor func(url string) *facilitator.Client
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRegistry sets the token registry used for resolution and decoding.
func WithRegistry(registry *x402.Registry) GatewayOption {
	return func(g *Gateway) {
		g.resolver = resolver.New(registry)
		g.codec = wire.NewCodec(registry)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// WithExtensions declares the protocol extensions this server would like to
// advertise. They are filtered per facilitator capability before appearing
// in a 402 response.
func WithExtensions(extensions map[string]interface{}) GatewayOption {
	return func(g *Gateway) { g.extensions = extensions }
}

// WithResource sets a static resource description for 402 responses. When
// absent the middleware derives one from the request URL.
func WithResource(resource x402.ResourceInfo) GatewayOption {
	return func(g *Gateway) { g.resource = &resource }
}

// WithVerifyOnly disables settlement; payments are verified but money never
// moves. Useful in staging environments.
func WithVerifyOnly() GatewayOption {
	return func(g *Gateway) { g.verifyOnly = true }
}

// WithCapabilityTTL overrides the capability cache TTL.
func WithCapabilityTTL(ttl time.Duration) GatewayOption {
	return func(g *Gateway) { g.cache = NewCapabilityCache(g.supportedFetch, ttl, g.logger) }
}

// WithFacilitatorClientFactory replaces how facilitator clients are built
// per URL. Used to attach auth or custom HTTP clients.
func WithFacilitatorClientFactory(factory func(url string) *facilitator.Client) GatewayOption {
	return func(g *Gateway) { g.clientFor = factory }
}

// NewGateway resolves the payment configuration eagerly and fails fast with
// a configuration error instead of serving broken 402s.
func NewGateway(cfg resolver.PaymentConfig, opts ...GatewayOption) (*Gateway, error) {
	g := &Gateway{
		config:   cfg,
		resolver: resolver.New(nil),
		codec:    wire.NewCodec(nil),
		logger:   slog.Default(),
		clients:  make(map[string]*facilitator.Client),
	}
	g.clientFor = func(url string) *facilitator.Client {
		return facilitator.NewClient(url)
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewCapabilityCache(g.supportedFetch, DefaultCapabilityTTL, g.logger)
	}

	resolution := g.resolver.Resolve(cfg)
	if resolution.Err != nil {
		return nil, resolution.Err
	}
	g.requirements = resolution.Requirements
	return g, nil
}

// Requirements returns the resolved accepts set.
func (g *Gateway) Requirements() []x402.PaymentRequirements {
	return g.requirements
}

func (g *Gateway) supportedFetch(ctx context.Context, url string) (x402.SupportedResponse, error) {
	return g.facilitatorFor(url).Supported(ctx)
}

func (g *Gateway) facilitatorFor(url string) *facilitator.Client {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	if c, ok := g.clients[url]; ok {
		return c
	}
	c := g.clientFor(url)
	g.clients[url] = c
	return c
}

// Denial is a short-circuit response the middleware adapter must emit: a
// status code, protocol headers, and a JSON body.
type Denial struct {
	Status  int
	Headers map[string]string
	Body    interface{}
}

// CheckResult carries everything an adapter needs to later settle a
// verified payment.
type CheckResult struct {
	Payload        x402.PaymentPayload
	Requirement    x402.PaymentRequirements
	FacilitatorURL string
	Verify         x402.VerifyResponse
}

// Check runs the verification half of the gateway against the value of the
// PAYMENT-SIGNATURE header. It returns either a verified payment to settle
// after the handler, or a Denial to short-circuit with.
func (g *Gateway) Check(ctx context.Context, paymentHeader string, resource *x402.ResourceInfo) (*CheckResult, *Denial) {
	if paymentHeader == "" {
		return nil, g.paymentRequired(ctx, resource, "Payment required")
	}

	payload, err := g.codec.DecodePayment(paymentHeader)
	if err != nil {
		g.logger.Warn("undecodable payment header", "error", err)
		return nil, &Denial{
			Status: http.StatusBadRequest,
			Body: x402.NewPaymentError(x402.ErrCodeInvalidPayload,
				"payment header could not be decoded", nil),
		}
	}

	requirement, ok := resolver.FindRequirementByAccepted(g.requirements, payload.Accepted)
	if !ok {
		g.logger.Warn("payment for unoffered requirement",
			"network", payload.Accepted.Network, "asset", payload.Accepted.Asset)
		return nil, &Denial{
			Status: http.StatusBadRequest,
			Body: x402.NewPaymentError(x402.ErrCodeInvalidPayload,
				"payment does not match any offered requirement", nil),
		}
	}

	facilitatorURL := g.resolver.FacilitatorURLFor(g.config, requirement)
	if facilitatorURL == "" {
		g.logger.Error("no facilitator configured", "network", requirement.Network)
		return nil, &Denial{
			Status: http.StatusInternalServerError,
			Body: x402.NewPaymentError(x402.ErrCodeConfiguration,
				fmt.Sprintf("no facilitator URL for network %s", requirement.Network), nil),
		}
	}

	verify, err := g.facilitatorFor(facilitatorURL).Verify(ctx, payload, requirement)
	if err != nil {
		g.logger.Error("facilitator verify failed", "facilitator", facilitatorURL, "error", err)
		return nil, &Denial{
			Status: http.StatusServiceUnavailable,
			Body: x402.WrapPaymentError(x402.ErrCodeFacilitatorUnavailable,
				"payment verification unavailable", err),
		}
	}
	if !verify.IsValid {
		g.logger.Warn("payment rejected", "reason", verify.InvalidReason, "payer", verify.Payer)
		return nil, g.paymentRequired(ctx, resource, verify.InvalidReason)
	}

	g.logger.Debug("payment verified", "payer", verify.Payer, "network", requirement.Network)
	return &CheckResult{
		Payload:        payload,
		Requirement:    requirement,
		FacilitatorURL: facilitatorURL,
		Verify:         verify,
	}, nil
}

// Settle executes the transfer for a verified payment and returns the
// encoded PAYMENT-RESPONSE header value alongside the settlement itself.
func (g *Gateway) Settle(ctx context.Context, result *CheckResult) (x402.SettleResponse, string, error) {
	if g.verifyOnly {
		settlement := x402.SettleResponse{Success: true, Network: result.Requirement.Network, Payer: result.Verify.Payer}
		header, err := g.codec.EncodeSettlement(settlement)
		return settlement, header, err
	}

	settlement, err := g.facilitatorFor(result.FacilitatorURL).Settle(ctx, result.Payload, result.Requirement)
	if err != nil {
		return x402.SettleResponse{}, "", err
	}
	header, err := g.codec.EncodeSettlement(settlement)
	if err != nil {
		return settlement, "", err
	}
	return settlement, header, nil
}

// paymentRequired builds the 402 Denial: the full accepts set in the
// PAYMENT-REQUIRED header, extensions filtered per facilitator capability.
func (g *Gateway) paymentRequired(ctx context.Context, resource *x402.ResourceInfo, reason string) *Denial {
	if resource == nil {
		resource = g.resource
	}
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       reason,
		Resource:    resource,
		Accepts:     g.requirements,
		Extensions:  g.advertisedExtensions(ctx),
	}
	header, err := g.codec.EncodeRequired(required)
	if err != nil {
		g.logger.Error("failed to encode payment required header", "error", err)
		return &Denial{
			Status: http.StatusInternalServerError,
			Body:   x402.WrapPaymentError(x402.ErrCodeConfiguration, "failed to encode requirements", err),
		}
	}
	return &Denial{
		Status:  http.StatusPaymentRequired,
		Headers: map[string]string{wire.HeaderPaymentRequired: header},
		Body:    required,
	}
}

// advertisedExtensions keeps an extension if any facilitator serving the
// accepts set supports it on its requirement's network.
func (g *Gateway) advertisedExtensions(ctx context.Context) map[string]interface{} {
	if len(g.extensions) == 0 {
		return nil
	}
	merged := make(map[string]interface{})
	for _, req := range g.requirements {
		url := g.resolver.FacilitatorURLFor(g.config, req)
		if url == "" {
			continue
		}
		for key, value := range g.cache.FilterExtensions(ctx, url, req.Network, g.extensions) {
			merged[key] = value
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}
