// Package tokenmetadata looks up ERC-20 metadata from a token metadata
// service and feeds it into a token registry, so payment requirements can
// reference tokens the registry was not seeded with.
package tokenmetadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	x402 "github.com/x402labs/x402-go"
)

// DefaultBaseURL is the default URL for the token metadata API.
const DefaultBaseURL = "https://tokens.anyspend.com"

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 10 * time.Second

// Metadata is the API's description of one token on one chain.
type Metadata struct {
	ChainID         int    `json:"chainId"`
	TokenAddress    string `json:"tokenAddress"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        int    `json:"decimals"`
	LogoURL         string `json:"logoUrl"`
	SupportsEip2612 bool   `json:"supportsEip2612"`
	SupportsEip3009 bool   `json:"supportsEip3009"`
	Version         string `json:"version,omitempty"`
}

// Config configures a metadata client.
type Config struct {
	// BaseURL overrides the metadata service. Defaults to DefaultBaseURL.
	BaseURL string
	// Timeout overrides the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Client queries the token metadata API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// chainName maps a chain id to the API's chain path segment.
func chainName(chainID int64) string {
	switch chainID {
	case 1:
		return "ethereum"
	case 10:
		return "optimism"
	case 56:
		return "bsc"
	case 137:
		return "polygon"
	case 8453:
		return "base"
	case 84532:
		return "base-sepolia"
	case 42161:
		return "arbitrum"
	case 43114:
		return "avalanche"
	default:
		return ""
	}
}

// Lookup fetches metadata for a token on the given network. The network
// identifier accepts the same forms the registry does.
func (c *Client) Lookup(ctx context.Context, registry *x402.Registry, networkID, tokenAddress string) (*Metadata, error) {
	network, err := registry.ResolveNetwork(networkID)
	if err != nil {
		return nil, err
	}
	chain := chainName(network.ChainID)
	if chain == "" {
		return nil, fmt.Errorf("tokenmetadata: no chain mapping for %s", network.Network)
	}

	url := fmt.Sprintf("%s/metadata/%s/%s", c.baseURL, chain, strings.ToLower(tokenAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokenmetadata: fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("tokenmetadata: token %s not found on %s", tokenAddress, chain)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokenmetadata: API returned status %d", resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("tokenmetadata: decode failed: %w", err)
	}
	if metadata.Version == "" {
		// Standard for EIP-3009 tokens when the API omits it.
		metadata.Version = x402.DefaultTokenVersion
	}
	return &metadata, nil
}

// Register looks a token up and adds it to the registry, so the resolver
// and the legacy payload decoder can use its symbol and decimals.
func (c *Client) Register(ctx context.Context, registry *x402.Registry, networkID, tokenAddress string) (*Metadata, error) {
	metadata, err := c.Lookup(ctx, registry, networkID, tokenAddress)
	if err != nil {
		return nil, err
	}
	if !metadata.SupportsEip3009 {
		return nil, fmt.Errorf("tokenmetadata: %s does not support transferWithAuthorization", metadata.Symbol)
	}
	err = registry.RegisterToken(networkID, x402.TokenInfo{
		Address:  metadata.TokenAddress,
		Symbol:   metadata.Symbol,
		Name:     metadata.Name,
		Version:  metadata.Version,
		Decimals: metadata.Decimals,
	})
	if err != nil {
		return nil, err
	}
	return metadata, nil
}
