package server

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	x402 "github.com/x402labs/x402-go"
)

func TestCapabilityCacheCachesPerFacilitatorAndNetwork(t *testing.T) {
	fetches := 0
	cache := NewCapabilityCache(func(ctx context.Context, url string) (x402.SupportedResponse, error) {
		fetches++
		return x402.SupportedResponse{
			Kinds:      []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}},
			Extensions: []string{"bazaar", "idempotency"},
		}, nil
	}, time.Minute, slog.Default())

	ctx := context.Background()
	if !cache.Supports(ctx, "https://f.example", "eip155:8453", "bazaar") {
		t.Error("expected bazaar to be supported")
	}
	if cache.Supports(ctx, "https://f.example", "eip155:8453", "unknown") {
		t.Error("unknown extension reported as supported")
	}
	if fetches != 1 {
		t.Errorf("second lookup for the same key must hit the cache, saw %d fetches", fetches)
	}

	// A different network is a different cache key.
	cache.Supports(ctx, "https://f.example", "eip155:84532", "bazaar")
	if fetches != 2 {
		t.Errorf("different network should trigger a fetch, saw %d", fetches)
	}
}

func TestCapabilityCacheFailSoft(t *testing.T) {
	fetches := 0
	cache := NewCapabilityCache(func(ctx context.Context, url string) (x402.SupportedResponse, error) {
		fetches++
		return x402.SupportedResponse{}, errors.New("facilitator down")
	}, time.Minute, slog.Default())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if cache.Supports(ctx, "https://down.example", "eip155:8453", "bazaar") {
			t.Fatal("failed fetch must yield no capabilities")
		}
	}
	if fetches != 1 {
		t.Errorf("failure must be cached for the TTL, saw %d fetches", fetches)
	}
}

func TestCapabilityCacheExpiry(t *testing.T) {
	fetches := 0
	cache := NewCapabilityCache(func(ctx context.Context, url string) (x402.SupportedResponse, error) {
		fetches++
		return x402.SupportedResponse{
			Kinds:      []x402.SupportedKind{{Network: "eip155:8453"}},
			Extensions: []string{"bazaar"},
		}, nil
	}, time.Minute, slog.Default())

	current := time.Now()
	cache.now = func() time.Time { return current }

	ctx := context.Background()
	cache.Supports(ctx, "https://f.example", "eip155:8453", "bazaar")
	cache.Supports(ctx, "https://f.example", "eip155:8453", "bazaar")
	if fetches != 1 {
		t.Fatalf("expected one fetch before expiry, got %d", fetches)
	}

	current = current.Add(2 * time.Minute)
	cache.Supports(ctx, "https://f.example", "eip155:8453", "bazaar")
	if fetches != 2 {
		t.Errorf("expected refetch after expiry, got %d fetches", fetches)
	}
}

func TestFilterExtensions(t *testing.T) {
	cache := NewCapabilityCache(func(ctx context.Context, url string) (x402.SupportedResponse, error) {
		return x402.SupportedResponse{
			Kinds:      []x402.SupportedKind{{Network: "eip155:8453"}},
			Extensions: []string{"bazaar"},
		}, nil
	}, time.Minute, slog.Default())

	filtered := cache.FilterExtensions(context.Background(), "https://f.example", "eip155:8453", map[string]interface{}{
		"bazaar":      map[string]interface{}{"listed": true},
		"idempotency": true,
	})
	if len(filtered) != 1 {
		t.Fatalf("expected one surviving extension, got %v", filtered)
	}
	if _, ok := filtered["bazaar"]; !ok {
		t.Error("bazaar should survive filtering")
	}
}
