package tokenmetadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/x402labs/x402-go"
)

func metadataServer(t *testing.T, metadata Metadata) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metadata/base/0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(metadata)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRegisterAddsTokenToRegistry(t *testing.T) {
	server := metadataServer(t, Metadata{
		ChainID:         8453,
		TokenAddress:    "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Name:            "Euro Coin",
		Symbol:          "EURC",
		Decimals:        6,
		SupportsEip3009: true,
	})

	registry := x402.NewRegistry()
	client := NewClient(Config{BaseURL: server.URL})

	metadata, err := client.Register(context.Background(), registry, "base", "0xDEADBEEFdeadbeefDEADBEEFdeadbeefDEADBEEF")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if metadata.Version != x402.DefaultTokenVersion {
		t.Errorf("missing version should default, got %q", metadata.Version)
	}

	network, err := registry.ResolveNetwork("base")
	if err != nil {
		t.Fatal(err)
	}
	token, err := registry.ResolveToken(network, "EURC")
	if err != nil {
		t.Fatalf("registered token not resolvable: %v", err)
	}
	if token.Decimals != 6 || token.Name != "Euro Coin" {
		t.Errorf("unexpected token info: %+v", token)
	}
}

func TestRegisterRejectsTokensWithoutAuthorizationSupport(t *testing.T) {
	server := metadataServer(t, Metadata{
		ChainID:      8453,
		TokenAddress: "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Symbol:       "WETH",
		Decimals:     18,
	})

	registry := x402.NewRegistry()
	client := NewClient(Config{BaseURL: server.URL})

	if _, err := client.Register(context.Background(), registry, "base", "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"); err == nil {
		t.Fatal("expected an error for a token without transferWithAuthorization")
	}
}

func TestLookupUnknownToken(t *testing.T) {
	server := metadataServer(t, Metadata{})
	registry := x402.NewRegistry()
	client := NewClient(Config{BaseURL: server.URL})

	if _, err := client.Lookup(context.Background(), registry, "base", "0x1111111111111111111111111111111111111111"); err == nil {
		t.Fatal("expected not-found error")
	}
}
