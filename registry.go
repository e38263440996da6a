package x402

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// TokenInfo describes an ERC-20 token accepted as payment. Name and Version
// are the EIP-712 domain parameters the token contract advertises.
type TokenInfo struct {
	Address  string
	Symbol   string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig describes one supported chain.
type NetworkConfig struct {
	Network Network
	Name    string
	ChainID int64
	Tokens  []TokenInfo
}

// Registry holds the network table and the token table. It is an explicitly
// constructed object rather than a process-wide singleton so resolution stays
// pure and testable; callers wanting shared state hold one instance at the
// composition root. The token side is append-only and read-mostly.
type Registry struct {
	mu       sync.RWMutex
	networks map[Network]NetworkConfig
	byName   map[string]Network
	custom   map[string]TokenInfo // chainID|lowercase(address)
}

// Default networks. USDC contract addresses and EIP-3009 domain parameters
// match the official Circle deployments.
var defaultNetworks = []NetworkConfig{
	{
		Network: "eip155:8453", Name: "base", ChainID: 8453,
		Tokens: []TokenInfo{{
			Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Symbol:  "USDC", Name: "USD Coin", Version: "2", Decimals: 6,
		}},
	},
	{
		Network: "eip155:84532", Name: "base-sepolia", ChainID: 84532,
		Tokens: []TokenInfo{{
			Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Symbol:  "USDC", Name: "USDC", Version: "2", Decimals: 6,
		}},
	},
	{
		Network: "eip155:1", Name: "ethereum", ChainID: 1,
		Tokens: []TokenInfo{{
			Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Symbol:  "USDC", Name: "USD Coin", Version: "2", Decimals: 6,
		}},
	},
	{
		Network: "eip155:11155111", Name: "sepolia", ChainID: 11155111,
		Tokens: []TokenInfo{{
			Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			Symbol:  "USDC", Name: "USDC", Version: "2", Decimals: 6,
		}},
	},
	{
		Network: "eip155:137", Name: "polygon", ChainID: 137,
		Tokens: []TokenInfo{{
			Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			Symbol:  "USDC", Name: "USD Coin", Version: "2", Decimals: 6,
		}},
	},
	{
		Network: "eip155:43114", Name: "avalanche", ChainID: 43114,
		Tokens: []TokenInfo{{
			Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
			Symbol:  "USDC", Name: "USD Coin", Version: "2", Decimals: 6,
		}},
	},
}

// NewRegistry creates a registry populated with the built-in networks.
func NewRegistry() *Registry {
	r := &Registry{
		networks: make(map[Network]NetworkConfig, len(defaultNetworks)),
		byName:   make(map[string]Network, len(defaultNetworks)),
		custom:   make(map[string]TokenInfo),
	}
	for _, cfg := range defaultNetworks {
		r.networks[cfg.Network] = cfg
		r.byName[cfg.Name] = cfg.Network
	}
	return r
}

// DefaultNetworks returns the CAIP-2 identifiers of the built-in networks,
// in registration order. This is the resolver's default chain set.
func (r *Registry) DefaultNetworks() []Network {
	out := make([]Network, len(defaultNetworks))
	for i, cfg := range defaultNetworks {
		out[i] = cfg.Network
	}
	return out
}

// ResolveNetwork resolves a network identifier that may be a symbolic name
// ("base"), a CAIP-2 string ("eip155:8453"), or a bare chain id ("8453").
func (r *Registry) ResolveNetwork(id string) (NetworkConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return NetworkConfig{}, NewPaymentError(ErrCodeUnknownNetwork, "empty network identifier", nil)
	}

	if network, ok := r.byName[strings.ToLower(id)]; ok {
		return r.networks[network], nil
	}
	if cfg, ok := r.networks[Network(id)]; ok {
		return cfg, nil
	}
	if chainID, err := strconv.ParseInt(id, 10, 64); err == nil {
		for _, cfg := range r.networks {
			if cfg.ChainID == chainID {
				return cfg, nil
			}
		}
	}
	return NetworkConfig{}, NewPaymentError(ErrCodeUnknownNetwork,
		fmt.Sprintf("unknown network: %s", id), nil)
}

// RegisterNetwork adds or replaces a network configuration.
func (r *Registry) RegisterNetwork(cfg NetworkConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks[cfg.Network] = cfg
	if cfg.Name != "" {
		r.byName[strings.ToLower(cfg.Name)] = cfg.Network
	}
}

func customKey(chainID int64, address string) string {
	return fmt.Sprintf("%d|%s", chainID, strings.ToLower(address))
}

// RegisterToken adds a custom token on the given network. Registering the
// same (chainId, address) twice overwrites rather than duplicates.
func (r *Registry) RegisterToken(networkID string, token TokenInfo) error {
	cfg, err := r.ResolveNetwork(networkID)
	if err != nil {
		return err
	}
	if token.Address == "" || token.Symbol == "" {
		return NewPaymentError(ErrCodeUnknownToken, "token address and symbol are required", nil)
	}
	if token.Decimals == 0 {
		token.Decimals = DefaultDecimals
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[customKey(cfg.ChainID, token.Address)] = token
	return nil
}

// UnregisterToken removes a custom token. Built-in tokens cannot be removed.
func (r *Registry) UnregisterToken(networkID, address string) error {
	cfg, err := r.ResolveNetwork(networkID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.custom, customKey(cfg.ChainID, address))
	return nil
}

// CustomTokens returns all registered custom tokens.
func (r *Registry) CustomTokens() []TokenInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TokenInfo, 0, len(r.custom))
	for _, t := range r.custom {
		out = append(out, t)
	}
	return out
}

// ResolveToken resolves a token identifier against one network's token set
// (built-ins plus custom registrations). The identifier may be a
// case-insensitive symbol, a contract address, or a CAIP asset id
// ("eip155:8453/erc20:0x..."). A token known on a different network yields
// token_not_on_network rather than unknown_token.
func (r *Registry) ResolveToken(network NetworkConfig, id string) (TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return TokenInfo{}, NewPaymentError(ErrCodeUnknownToken, "empty token identifier", nil)
	}

	wantNetwork, wantRef := network.Network, id
	if slash := strings.Index(id, "/"); slash > 0 {
		// CAIP asset id: <caip2>/erc20:<address>
		wantNetwork = Network(id[:slash])
		wantRef = strings.TrimPrefix(id[slash+1:], "erc20:")
		if wantNetwork != network.Network {
			return TokenInfo{}, NewPaymentError(ErrCodeTokenNotOnNetwork,
				fmt.Sprintf("asset %s is not on network %s", id, network.Network), nil)
		}
	}

	if t, ok := r.lookupTokenLocked(network, wantRef); ok {
		return t, nil
	}

	// Distinguish a token that exists elsewhere from one that exists nowhere.
	for _, other := range r.networks {
		if other.Network == network.Network {
			continue
		}
		if _, ok := r.lookupTokenLocked(other, wantRef); ok {
			return TokenInfo{}, NewPaymentError(ErrCodeTokenNotOnNetwork,
				fmt.Sprintf("token %s is not available on network %s", id, network.Network), nil)
		}
	}
	return TokenInfo{}, NewPaymentError(ErrCodeUnknownToken,
		fmt.Sprintf("unknown token: %s", id), nil)
}

func (r *Registry) lookupTokenLocked(network NetworkConfig, ref string) (TokenInfo, bool) {
	for _, t := range network.Tokens {
		if strings.EqualFold(t.Symbol, ref) || strings.EqualFold(t.Address, ref) {
			return t, true
		}
	}
	for key, t := range r.custom {
		if !strings.HasPrefix(key, fmt.Sprintf("%d|", network.ChainID)) {
			continue
		}
		if strings.EqualFold(t.Symbol, ref) || strings.EqualFold(t.Address, ref) {
			return t, true
		}
	}
	return TokenInfo{}, false
}

// TokenByAddress finds a token (built-in or custom) by network and contract
// address. Used by the wire codec to recover token decimals for legacy
// amount normalization.
func (r *Registry) TokenByAddress(network Network, address string) (TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.networks[network]
	if !ok {
		return TokenInfo{}, false
	}
	return r.lookupTokenLocked(cfg, address)
}
