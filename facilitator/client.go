// Package facilitator is the HTTP client for an external x402 facilitator
// service, which performs the actual on-chain verification and settlement.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/x402labs/x402-go"
)

// DefaultURL is the default public facilitator.
const DefaultURL = "https://x402.org/facilitator"

const (
	defaultTimeout = 30 * time.Second

	// Supported is the only endpoint retried on 429: it is a read that the
	// capability cache calls lazily, so a short backoff is safe. Verify and
	// settle are never retried here.
	supportedRetries        = 3
	supportedRetryBaseDelay = 1 * time.Second
)

// AuthProvider generates authentication headers for facilitator requests.
type AuthProvider interface {
	AuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders holds per-endpoint authentication headers.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// Client talks to a single facilitator service.
type Client struct {
	url        string
	httpClient *http.Client
	auth       AuthProvider
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithAuth attaches an authentication provider.
func WithAuth(auth AuthProvider) Option {
	return func(c *Client) { c.auth = auth }
}

// NewClient creates a facilitator client for the given base URL. An empty
// URL selects the default public facilitator.
func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the facilitator base URL.
func (c *Client) URL() string {
	return c.url
}

// Verify asks the facilitator whether a signed payment is valid for the
// given requirement. A rejected payment is a normal response with
// IsValid=false, not an error; errors mean the facilitator could not be
// reached or answered unusably.
func (c *Client) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	err := c.post(ctx, "/verify", x402.VerifyRequest{
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, authSelector(func(h AuthHeaders) map[string]string { return h.Verify }), &out)
	return out, err
}

// Settle asks the facilitator to execute the transfer on chain. A failed
// settlement is a normal response with Success=false.
func (c *Client) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	var out x402.SettleResponse
	err := c.post(ctx, "/settle", x402.SettleRequest{
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, authSelector(func(h AuthHeaders) map[string]string { return h.Settle }), &out)
	return out, err
}

// Supported fetches the payment kinds and extension keys the facilitator
// handles. Retries up to three times with exponential backoff on 429.
func (c *Client) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error
	for attempt := 0; attempt < supportedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read supported response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supported x402.SupportedResponse
			if err := json.Unmarshal(body, &supported); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supported, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests && attempt < supportedRetries-1 {
			delay := supportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}
		return x402.SupportedResponse{}, lastErr
	}
	return x402.SupportedResponse{}, lastErr
}

type authSelector func(AuthHeaders) map[string]string

func (c *Client) applyAuth(ctx context.Context, req *http.Request, sel authSelector) error {
	if c.auth == nil {
		return nil
	}
	headers, err := c.auth.AuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range sel(headers) {
		req.Header.Set(k, v)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, sel authSelector, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.applyAuth(ctx, req, sel); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s failed (%d): %s", path, resp.StatusCode, string(responseBody))
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
