package client

import (
	"context"
	"net/http"
	"sort"

	x402 "github.com/x402labs/x402-go"
)

// Hook phases fire at fixed points of a negotiation. Each phase has its own
// error semantics: OnPaymentRequired aborts the negotiation on error,
// AfterPaymentResponse errors are logged and ignored, and OnError is a pure
// notification channel.

// PaymentRequiredContext is passed to hooks when a 402 has been decoded.
type PaymentRequiredContext struct {
	Ctx           context.Context
	NegotiationID string
	Request       *http.Request
	Required      x402.PaymentRequired
}

// OnPaymentRequiredHook observes a decoded 402. A returned error aborts the
// whole negotiation; it is reported to OnError hooks before propagating.
type OnPaymentRequiredHook func(PaymentRequiredContext) error

// SelectContext is passed to requirement selection hooks.
type SelectContext struct {
	Ctx           context.Context
	NegotiationID string
	Request       *http.Request
	Accepts       []x402.PaymentRequirements
}

// SelectRequirementHook picks the requirement to pay first. Returning nil
// defers to later hooks and ultimately the server's ordering. A returned
// requirement must be a member of Accepts; anything else fails the
// negotiation with a hook contract violation.
type SelectRequirementHook func(SelectContext) (*x402.PaymentRequirements, error)

// PaymentResponseContext is passed to hooks after a settlement header has
// been decoded from the retry response.
type PaymentResponseContext struct {
	Ctx           context.Context
	NegotiationID string
	Request       *http.Request
	Settlement    x402.SettleResponse
}

// AfterPaymentResponseHook observes the decoded settlement. Errors are
// logged and do not affect the result.
type AfterPaymentResponseHook func(PaymentResponseContext) error

// ErrorContext describes a negotiation failure.
type ErrorContext struct {
	Ctx           context.Context
	NegotiationID string
	State         State
	Err           error
}

// OnErrorHook observes negotiation failures. It cannot alter the outcome.
type OnErrorHook func(ErrorContext)

// hookList keeps hooks ordered by ascending priority; equal priorities run
// in registration order.
type hookList[H any] struct {
	entries []hookEntry[H]
	nextSeq int
}

type hookEntry[H any] struct {
	priority int
	seq      int
	fn       H
}

func (l *hookList[H]) add(priority int, fn H) {
	l.entries = append(l.entries, hookEntry[H]{priority: priority, seq: l.nextSeq, fn: fn})
	l.nextSeq++
	sort.SliceStable(l.entries, func(i, j int) bool {
		if l.entries[i].priority != l.entries[j].priority {
			return l.entries[i].priority < l.entries[j].priority
		}
		return l.entries[i].seq < l.entries[j].seq
	})
}

func (l *hookList[H]) all() []H {
	out := make([]H, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}
