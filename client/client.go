// Package client drives the payer side of the x402 protocol: it wraps an
// HTTP transport, reacts to 402 responses by signing an EIP-3009
// authorization for one of the offered requirements, and retries the
// request with the PAYMENT-SIGNATURE header attached.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/eip712"
	"github.com/x402labs/x402-go/wire"
)

// State is the phase a negotiation is in. Negotiations are linear: a failure
// at any phase is terminal and a cancelled negotiation restarts from Idle.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StatePaymentRequired
	StateSigning
	StateRetrying
	StateSettled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StatePaymentRequired:
		return "payment_required"
	case StateSigning:
		return "signing"
	case StateRetrying:
		return "retrying"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Signer produces EIP-3009 authorization signatures. signers/evm provides a
// private-key implementation.
type Signer interface {
	Address() string
	SignAuthorization(ctx context.Context, domain eip712.Domain, auth x402.EIP3009Authorization) (string, error)
}

// Client is an http.RoundTripper that pays for 402-gated resources.
type Client struct {
	transport http.RoundTripper
	signer    Signer
	codec     *wire.Codec
	logger    *slog.Logger

	tokenName    string
	tokenVersion string
	nonce        func() string
	now          func() time.Time

	onPaymentRequired    hookList[OnPaymentRequiredHook]
	selectRequirement    hookList[SelectRequirementHook]
	afterPaymentResponse hookList[AfterPaymentResponseHook]
	onError              hookList[OnErrorHook]
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the underlying transport. Defaults to
// http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithRegistry sets the token registry the wire codec resolves legacy
// payloads against.
func WithRegistry(registry *x402.Registry) Option {
	return func(c *Client) { c.codec = wire.NewCodec(registry) }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTokenDomain overrides the EIP-712 domain name and version used when a
// requirement carries no token metadata of its own.
func WithTokenDomain(name, version string) Option {
	return func(c *Client) {
		c.tokenName = name
		c.tokenVersion = version
	}
}

// WithNonceSource replaces the default wall-clock-derived nonce generator.
// The generator must return 32-byte hex values unique per authorization.
func WithNonceSource(nonce func() string) Option {
	return func(c *Client) { c.nonce = nonce }
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// OnPaymentRequired registers a hook observing decoded 402s. Lower
// priorities run first; ties run in registration order.
func OnPaymentRequired(priority int, hook OnPaymentRequiredHook) Option {
	return func(c *Client) { c.onPaymentRequired.add(priority, hook) }
}

// SelectRequirement registers a requirement selection hook.
func SelectRequirement(priority int, hook SelectRequirementHook) Option {
	return func(c *Client) { c.selectRequirement.add(priority, hook) }
}

// AfterPaymentResponse registers a hook observing decoded settlements.
func AfterPaymentResponse(priority int, hook AfterPaymentResponseHook) Option {
	return func(c *Client) { c.afterPaymentResponse.add(priority, hook) }
}

// OnError registers an error notification hook.
func OnError(priority int, hook OnErrorHook) Option {
	return func(c *Client) { c.onError.add(priority, hook) }
}

// New creates a payment client around the given signer.
func New(signer Signer, opts ...Option) *Client {
	c := &Client{
		transport: http.DefaultTransport,
		signer:    signer,
		codec:     wire.NewCodec(nil),
		logger:    slog.Default(),
		now:       time.Now,
	}
	c.nonce = func() string {
		return fmt.Sprintf("0x%064x", c.now().UnixNano())
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wrap returns an http.Client whose transport pays automatically.
func (c *Client) Wrap(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	wrapped := *base
	wrapped.Transport = c
	return &wrapped
}

// Do issues a request with automatic payment handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return (&http.Client{Transport: c}).Do(req)
}

// RoundTrip implements http.RoundTripper. A non-402 response passes through
// untouched; a 402 starts a negotiation that signs and retries with at most
// one attempt per offered requirement.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	return c.negotiate(req, resp)
}

func (c *Client) negotiate(req *http.Request, resp *http.Response) (*http.Response, error) {
	negotiationID := uuid.NewString()
	logger := c.logger.With("negotiation_id", negotiationID, "url", req.URL.String())
	ctx := req.Context()

	header := resp.Header.Get(wire.HeaderPaymentRequired)
	required, err := c.codec.DecodeRequired(header)
	if err != nil || header == "" {
		drain(resp)
		failure := x402.WrapPaymentError(x402.ErrCodeProtocol,
			"Failed to parse payment required response", err)
		return nil, c.fail(ctx, negotiationID, StatePaymentRequired, failure)
	}
	drain(resp)
	logger.Debug("payment required", "accepts", len(required.Accepts))

	prCtx := PaymentRequiredContext{Ctx: ctx, NegotiationID: negotiationID, Request: req, Required: required}
	for _, hook := range c.onPaymentRequired.all() {
		if err := hook(prCtx); err != nil {
			return nil, c.fail(ctx, negotiationID, StatePaymentRequired, err)
		}
	}

	candidates, err := c.orderCandidates(ctx, negotiationID, req, required.Accepts)
	if err != nil {
		return nil, c.fail(ctx, negotiationID, StatePaymentRequired, err)
	}
	if len(candidates) == 0 {
		return nil, c.fail(ctx, negotiationID, StatePaymentRequired,
			x402.NewPaymentError(x402.ErrCodeProtocol, "402 response offered no payment requirements", nil))
	}

	var lastErr error
	for _, candidate := range candidates {
		payload, err := c.sign(ctx, candidate, required)
		if err != nil {
			logger.Warn("signing failed, trying next requirement", "network", candidate.Network, "error", err)
			lastErr = err
			continue
		}

		encoded, err := c.codec.EncodePayment(payload)
		if err != nil {
			lastErr = err
			continue
		}

		retry := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, c.fail(ctx, negotiationID, StateRetrying, err)
			}
			retry.Body = body
		}
		retry.Header.Set(wire.HeaderPaymentSignature, encoded)

		logger.Debug("retrying with payment", "network", candidate.Network, "amount", candidate.Amount)
		retryResp, err := c.transport.RoundTrip(retry)
		if err != nil {
			return nil, c.fail(ctx, negotiationID, StateRetrying, err)
		}

		if retryResp.StatusCode == http.StatusPaymentRequired {
			// Rejected for this requirement; the next accepts entry may
			// still be payable.
			drain(retryResp)
			lastErr = x402.NewPaymentError(x402.ErrCodeVerificationRejected,
				fmt.Sprintf("payment rejected for network %s", candidate.Network), nil)
			continue
		}

		settlement, err := c.codec.DecodeSettlement(retryResp.Header.Get(wire.HeaderPaymentResponse))
		if err != nil {
			drain(retryResp)
			failure := x402.WrapPaymentError(x402.ErrCodeSettlementDecode,
				"missing or undecodable settlement response", err)
			return nil, c.fail(ctx, negotiationID, StateRetrying, failure)
		}

		respCtx := PaymentResponseContext{Ctx: ctx, NegotiationID: negotiationID, Request: req, Settlement: settlement}
		for _, hook := range c.afterPaymentResponse.all() {
			if err := hook(respCtx); err != nil {
				logger.Warn("after payment response hook failed", "error", err)
			}
		}

		logger.Info("payment settled",
			"network", settlement.Network,
			"transaction", settlement.Transaction,
			"success", settlement.Success)
		return retryResp, nil
	}

	if lastErr == nil {
		lastErr = x402.NewPaymentError(x402.ErrCodeVerificationRejected,
			"all offered payment requirements were rejected", nil)
	}
	return nil, c.fail(ctx, negotiationID, StateRetrying, lastErr)
}

// orderCandidates applies selection hooks to the accepts set. The chosen
// requirement moves to the front; the rest keep the server's order so
// fallback still visits every entry exactly once.
func (c *Client) orderCandidates(ctx context.Context, negotiationID string, req *http.Request, accepts []x402.PaymentRequirements) ([]x402.PaymentRequirements, error) {
	payable := make([]x402.PaymentRequirements, 0, len(accepts))
	for _, r := range accepts {
		if r.Scheme != x402.SchemeExact {
			continue
		}
		if _, err := r.Network.ChainID(); err != nil {
			continue
		}
		payable = append(payable, r)
	}

	selCtx := SelectContext{Ctx: ctx, NegotiationID: negotiationID, Request: req, Accepts: payable}
	for _, hook := range c.selectRequirement.all() {
		chosen, err := hook(selCtx)
		if err != nil {
			return nil, err
		}
		if chosen == nil {
			continue
		}
		idx := indexOfRequirement(payable, *chosen)
		if idx < 0 {
			return nil, x402.NewPaymentError(x402.ErrCodeHookContractViolation,
				"selection hook returned a requirement outside the offered set", nil)
		}
		reordered := make([]x402.PaymentRequirements, 0, len(payable))
		reordered = append(reordered, payable[idx])
		reordered = append(reordered, payable[:idx]...)
		reordered = append(reordered, payable[idx+1:]...)
		return reordered, nil
	}
	return payable, nil
}

func (c *Client) sign(ctx context.Context, requirement x402.PaymentRequirements, required x402.PaymentRequired) (x402.PaymentPayload, error) {
	domain, err := eip712.DomainForRequirement(requirement, c.tokenName, c.tokenVersion)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	timeout := requirement.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}
	now := c.now().Unix()
	auth := x402.EIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirement.PayTo,
		Value:       requirement.Amount,
		ValidAfter:  strconv.FormatInt(now, 10),
		ValidBefore: strconv.FormatInt(now+int64(timeout), 10),
		Nonce:       c.nonce(),
	}

	signature, err := c.signer.SignAuthorization(ctx, domain, auth)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Accepted:    requirement,
		Payload: x402.ExactPayload{
			Signature:     signature,
			Authorization: auth,
		},
		Resource:   required.Resource,
		Extensions: required.Extensions,
	}, nil
}

func (c *Client) fail(ctx context.Context, negotiationID string, state State, err error) error {
	errCtx := ErrorContext{Ctx: ctx, NegotiationID: negotiationID, State: state, Err: err}
	for _, hook := range c.onError.all() {
		hook(errCtx)
	}
	c.logger.Error("payment negotiation failed",
		"negotiation_id", negotiationID,
		"state", state.String(),
		"error", err)
	return err
}

// indexOfRequirement finds r in the set by its identity tuple.
func indexOfRequirement(set []x402.PaymentRequirements, r x402.PaymentRequirements) int {
	for i, candidate := range set {
		if candidate.Scheme == r.Scheme &&
			candidate.Network == r.Network &&
			candidate.Asset == r.Asset &&
			candidate.PayTo == r.PayTo {
			return i
		}
	}
	return -1
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		resp.Body.Close()
	}
}
