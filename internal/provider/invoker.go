// Package provider implements the AI backends the orchestration core
// calls into: the Anthropic API (directly or via AWS Bedrock) and a
// deterministic baseline that needs no credentials.
package provider

import (
	"context"
	"errors"
	"time"
)

// errNoCredentials is wrapped in a ProviderError when an invoker is
// called without usable credentials.
var errNoCredentials = errors.New("no API credentials configured")

// Invocation is the outcome of one model call.
type Invocation struct {
	// Text is the model's response text.
	Text string
	// TokensIn is the consumed input token count.
	TokensIn int64
	// TokensOut is the produced output token count.
	TokensOut int64
	// Latency is the wall-clock duration of the call.
	Latency time.Duration
}

// TotalTokens returns the combined input and output token count.
func (inv *Invocation) TotalTokens() int64 {
	return inv.TokensIn + inv.TokensOut
}

// ModelInvoker performs a single model call. Implementations must honor
// context cancellation and return ProviderError for backend failures.
type ModelInvoker interface {
	// Invoke sends the prompt to the given model and returns the result.
	Invoke(ctx context.Context, model, system, prompt string) (*Invocation, error)
	// Name returns the provider key used for circuit breaking.
	Name() string
	// Available reports whether the invoker has usable credentials.
	Available() bool
}
