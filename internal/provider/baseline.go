package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Baseline is a deterministic, credential-free invoker. The router falls
// back to it when no real provider is available, so the core keeps
// functioning without API keys (with reduced answer quality).
type Baseline struct{}

// NewBaseline creates the baseline invoker.
func NewBaseline() *Baseline { return &Baseline{} }

// Name returns the provider key.
func (b *Baseline) Name() string { return "baseline" }

// Available always returns true; the baseline needs no credentials.
func (b *Baseline) Available() bool { return true }

// Invoke produces a deterministic response derived from the prompt.
// The same prompt always yields the same text and token counts.
func (b *Baseline) Invoke(ctx context.Context, model, system, prompt string) (*Invocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(prompt)
	summary := prompt
	if len(words) > 12 {
		summary = strings.Join(words[:12], " ") + "..."
	}

	h := fnv.New32a()
	h.Write([]byte(prompt))

	text := fmt.Sprintf(
		"Baseline analysis of request %08x.\n"+
			"Request: %s\n"+
			"Observed %d words. No model-backed reasoning was applied; "+
			"configure a provider credential for full results.",
		h.Sum32(), summary, len(words))

	return &Invocation{
		Text:      text,
		TokensIn:  int64(len(words)),
		TokensOut: int64(len(strings.Fields(text))),
		Latency:   time.Millisecond,
	}, nil
}
