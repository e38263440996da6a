package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	x402 "github.com/x402labs/x402-go"
)

// DefaultCapabilityTTL is how long a facilitator's advertised capabilities
// are trusted before being re-queried.
const DefaultCapabilityTTL = 5 * time.Minute

// SupportedFetcher queries a facilitator's /supported endpoint.
// facilitator.Client satisfies this through a small adapter in the gateway.
type SupportedFetcher func(ctx context.Context, facilitatorURL string) (x402.SupportedResponse, error)

type capabilityEntry struct {
	expiresAt  time.Time
	extensions map[string]bool
}

// CapabilityCache remembers which extension keys each facilitator supports
// per network, so 402 responses only advertise extensions the facilitator
// can actually honor. A fetch failure caches an empty set for the full TTL:
// fail-soft, so an unreachable facilitator does not get hammered on every
// unpaid request.
type CapabilityCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	fetch   SupportedFetcher
	logger  *slog.Logger
	entries map[string]capabilityEntry
}

// NewCapabilityCache creates a cache around the given fetcher. A zero ttl
// selects the default of five minutes.
func NewCapabilityCache(fetch SupportedFetcher, ttl time.Duration, logger *slog.Logger) *CapabilityCache {
	if ttl <= 0 {
		ttl = DefaultCapabilityTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityCache{
		ttl:     ttl,
		now:     time.Now,
		fetch:   fetch,
		logger:  logger,
		entries: make(map[string]capabilityEntry),
	}
}

// Supports reports whether the facilitator behind facilitatorURL handles the
// named extension on the given network, querying /supported lazily.
func (c *CapabilityCache) Supports(ctx context.Context, facilitatorURL string, network x402.Network, extension string) bool {
	return c.capabilities(ctx, facilitatorURL, network)[extension]
}

// FilterExtensions keeps only the extension entries the facilitator
// supports on the given network.
func (c *CapabilityCache) FilterExtensions(ctx context.Context, facilitatorURL string, network x402.Network, extensions map[string]interface{}) map[string]interface{} {
	if len(extensions) == 0 {
		return nil
	}
	supported := c.capabilities(ctx, facilitatorURL, network)
	filtered := make(map[string]interface{})
	for key, value := range extensions {
		if supported[key] {
			filtered[key] = value
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func (c *CapabilityCache) capabilities(ctx context.Context, facilitatorURL string, network x402.Network) map[string]bool {
	key := facilitatorURL + "|" + string(network)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.extensions
	}

	extensions := make(map[string]bool)
	supported, err := c.fetch(ctx, facilitatorURL)
	if err != nil {
		c.logger.Warn("facilitator capability query failed, caching empty set",
			"facilitator", facilitatorURL, "network", network, "error", err)
	} else {
		for _, kind := range supported.Kinds {
			if kind.Network == network {
				for _, ext := range supported.Extensions {
					extensions[ext] = true
				}
				break
			}
		}
	}

	c.mu.Lock()
	c.entries[key] = capabilityEntry{
		expiresAt:  c.now().Add(c.ttl),
		extensions: extensions,
	}
	c.mu.Unlock()
	return extensions
}
