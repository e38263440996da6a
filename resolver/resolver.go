// Package resolver expands a declarative payment configuration into the
// concrete requirement set a server advertises in 402 responses.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// DefaultToken is used when the configuration names no tokens.
const DefaultToken = "usdc"

// PaymentConfig declares what a protected resource costs. It is resolved once
// at middleware construction and never mutated afterward.
type PaymentConfig struct {
	// PayTo is the global receiving address. Required unless every resolved
	// (network, token) pair is covered by an override below.
	PayTo string

	// Chain and Chains select networks by symbolic name, CAIP-2 id, or bare
	// chain id. Empty means the full default network set.
	Chain  string
	Chains []string

	// Token and Tokens select tokens per network by symbol, address, or CAIP
	// asset id. Empty means USDC.
	Token  string
	Tokens []string

	// Amount is a human decimal amount ("1.5") applied to every pair. Amounts
	// overrides it per network, keyed by any network identifier; the literal
	// key "default" is the explicit fallback within the map.
	Amount  string
	Amounts map[string]string

	// MaxTimeoutSeconds bounds the payment authorization validity window.
	// Zero means the protocol default.
	MaxTimeoutSeconds int

	// Override maps, most specific wins. Outer keys are network identifiers
	// in any accepted form; inner keys are token symbols or addresses.
	PayToByChain map[string]string
	PayToByToken map[string]map[string]string

	FacilitatorURL        string
	FacilitatorURLByChain map[string]string
	FacilitatorURLByToken map[string]map[string]string
}

// Resolution is the outcome of resolving a PaymentConfig. A failed resolution
// carries a nil requirement slice and a configuration error; it is returned
// as a value so middleware can surface it as a 500, never a 402.
type Resolution struct {
	Requirements []x402.PaymentRequirements
	Err          error
}

// Resolver turns payment configurations into requirement sets using an
// injected network and token registry.
type Resolver struct {
	registry *x402.Registry
}

func New(registry *x402.Registry) *Resolver {
	if registry == nil {
		registry = x402.NewRegistry()
	}
	return &Resolver{registry: registry}
}

// Resolve expands cfg into one PaymentRequirements per (network, token) pair.
// Per-entry failures are aggregated so a misconfigured server operator sees
// every bad entry at once instead of fixing them one restart at a time.
func (r *Resolver) Resolve(cfg PaymentConfig) Resolution {
	var problems []error

	networkIDs := cfg.Chains
	if len(networkIDs) == 0 && cfg.Chain != "" {
		networkIDs = []string{cfg.Chain}
	}

	var networks []x402.NetworkConfig
	if len(networkIDs) == 0 {
		for _, n := range r.registry.DefaultNetworks() {
			nc, err := r.registry.ResolveNetwork(string(n))
			if err != nil {
				continue
			}
			networks = append(networks, nc)
		}
	} else {
		for _, id := range networkIDs {
			nc, err := r.registry.ResolveNetwork(id)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			networks = append(networks, nc)
		}
	}

	tokenIDs := cfg.Tokens
	if len(tokenIDs) == 0 && cfg.Token != "" {
		tokenIDs = []string{cfg.Token}
	}
	if len(tokenIDs) == 0 {
		tokenIDs = []string{DefaultToken}
	}

	var requirements []x402.PaymentRequirements
	for _, network := range networks {
		for _, tokenID := range tokenIDs {
			token, err := r.registry.ResolveToken(network, tokenID)
			if err != nil {
				problems = append(problems, err)
				continue
			}

			req, err := r.buildRequirement(cfg, network, token)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			requirements = append(requirements, req)
		}
	}

	if len(problems) > 0 {
		return Resolution{Err: x402.WrapPaymentError(x402.ErrCodeConfiguration,
			"payment configuration did not resolve", errors.Join(problems...))}
	}
	if len(requirements) == 0 {
		return Resolution{Err: x402.NewPaymentError(x402.ErrCodeConfiguration,
			"payment configuration resolved to zero requirements", nil)}
	}
	return Resolution{Requirements: requirements}
}

func (r *Resolver) buildRequirement(cfg PaymentConfig, network x402.NetworkConfig, token x402.TokenInfo) (x402.PaymentRequirements, error) {
	amount, err := r.amountFor(cfg, network)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	atomic, err := x402.ToAtomicUnits(amount, token.Decimals)
	if err != nil {
		return x402.PaymentRequirements{}, x402.WrapPaymentError(x402.ErrCodeConfiguration,
			fmt.Sprintf("invalid amount %q for network %s", amount, network.Network), err)
	}

	payTo := r.lookupOverride(cfg.PayToByToken, cfg.PayToByChain, cfg.PayTo, network, token)
	if payTo == "" {
		return x402.PaymentRequirements{}, x402.NewPaymentError(x402.ErrCodeConfiguration,
			fmt.Sprintf("no payTo address for %s on %s", token.Symbol, network.Network), nil)
	}

	timeout := cfg.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}

	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           network.Network,
		Amount:            atomic,
		Asset:             token.Address,
		PayTo:             payTo,
		MaxTimeoutSeconds: timeout,
		Name:              token.Name,
		Version:           token.Version,
		Extra: map[string]interface{}{
			"name":    token.Name,
			"version": token.Version,
		},
	}, nil
}

// amountFor picks the amount for a network: a matching Amounts key wins, then
// the map's "default" key, then the scalar Amount.
func (r *Resolver) amountFor(cfg PaymentConfig, network x402.NetworkConfig) (string, error) {
	if v, ok := matchNetworkKey(r.registry, cfg.Amounts, network); ok {
		return v, nil
	}
	if v, ok := cfg.Amounts["default"]; ok {
		return v, nil
	}
	if cfg.Amount != "" {
		return cfg.Amount, nil
	}
	return "", x402.NewPaymentError(x402.ErrCodeConfiguration,
		fmt.Sprintf("no amount configured for network %s", network.Network), nil)
}

// FacilitatorURLFor resolves the facilitator URL for an already-resolved
// requirement through the same override chain as payTo.
func (r *Resolver) FacilitatorURLFor(cfg PaymentConfig, req x402.PaymentRequirements) string {
	network, err := r.registry.ResolveNetwork(string(req.Network))
	if err != nil {
		return cfg.FacilitatorURL
	}
	token, ok := r.registry.TokenByAddress(network.Network, req.Asset)
	if !ok {
		token = x402.TokenInfo{Address: req.Asset}
	}
	return r.lookupOverride(cfg.FacilitatorURLByToken, cfg.FacilitatorURLByChain, cfg.FacilitatorURL, network, token)
}

// lookupOverride walks the three-tier chain: per-(network, token), then
// per-network, then the global scalar. Map keys are re-resolved through the
// registry so "base", "8453" and "eip155:8453" are interchangeable on both
// sides of the comparison.
func (r *Resolver) lookupOverride(byToken map[string]map[string]string, byChain map[string]string, global string, network x402.NetworkConfig, token x402.TokenInfo) string {
	if inner, ok := matchNetworkKey(r.registry, byToken, network); ok {
		for key, value := range inner {
			if tokenKeyMatches(key, token) {
				return value
			}
		}
	}
	if v, ok := matchNetworkKey(r.registry, byChain, network); ok {
		return v
	}
	return global
}

// matchNetworkKey finds the entry whose key resolves to the same chain id as
// network. O(n) over the map, which is fine at configuration time.
func matchNetworkKey[V any](registry *x402.Registry, m map[string]V, network x402.NetworkConfig) (V, bool) {
	var zero V
	for key, value := range m {
		if key == "default" {
			continue
		}
		nc, err := registry.ResolveNetwork(key)
		if err != nil {
			continue
		}
		if nc.ChainID == network.ChainID {
			return value, true
		}
	}
	return zero, false
}

func tokenKeyMatches(key string, token x402.TokenInfo) bool {
	if strings.EqualFold(key, token.Symbol) || strings.EqualFold(key, token.Address) {
		return true
	}
	if slash := strings.Index(key, "/"); slash >= 0 {
		ref := strings.TrimPrefix(key[slash+1:], "erc20:")
		return strings.EqualFold(ref, token.Address)
	}
	return false
}
