// Package push abstracts the multicast send capability the dispatcher builds
// on. A gateway reports per-token outcomes; the retry and cleanup policy on
// top of those outcomes belongs to the dispatcher, not the transport.
package push

import "context"

// Message is the provider-agnostic payload shape.
type Message struct {
	Title string
	Body  string
	// Data carries the machine block: request/residency ids, action type and
	// the self-contained action URLs.
	Data map[string]string
}

// FailureClass splits delivery failures into the two classes the retry policy
// cares about.
type FailureClass int

const (
	// FailureTransient covers provider-internal and unavailable errors;
	// eligible for retry.
	FailureTransient FailureClass = iota
	// FailurePermanent covers unregistered/invalid tokens; never retried,
	// pruned from the token directory instead.
	FailurePermanent
)

// TokenFailure is one token's delivery failure.
type TokenFailure struct {
	Token  string
	Class  FailureClass
	Reason string
}

// Result is the per-pass outcome of a multicast send.
type Result struct {
	SuccessCount int
	Failures     []TokenFailure
}

// Gateway is the multicast send capability.
// A non-nil error means the whole pass failed before any per-token result was
// produced (transport-class failure); partial failures are data in Result.
type Gateway interface {
	Name() string
	Send(ctx context.Context, tokens []string, msg Message) (Result, error)
}
