package resolver

import (
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// FindRequirementByAccepted matches a client's echoed requirement against the
// server's configured set. Matching relaxes in three steps: the full
// (scheme, network, asset, payTo) identity, then scheme+network+payTo with
// any asset, then scheme+network alone. Address comparison is
// case-insensitive throughout. Returns false when nothing matches at any
// level, meaning the client is paying for something this server never
// offered.
func FindRequirementByAccepted(configured []x402.PaymentRequirements, accepted x402.PaymentRequirements) (x402.PaymentRequirements, bool) {
	for _, req := range configured {
		if req.Scheme == accepted.Scheme &&
			req.Network == accepted.Network &&
			strings.EqualFold(req.Asset, accepted.Asset) &&
			strings.EqualFold(req.PayTo, accepted.PayTo) {
			return req, true
		}
	}
	for _, req := range configured {
		if req.Scheme == accepted.Scheme &&
			req.Network == accepted.Network &&
			strings.EqualFold(req.PayTo, accepted.PayTo) {
			return req, true
		}
	}
	for _, req := range configured {
		if req.Scheme == accepted.Scheme && req.Network == accepted.Network {
			return req, true
		}
	}
	return x402.PaymentRequirements{}, false
}
