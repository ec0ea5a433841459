package provider

import (
	"context"
	"sync"

	"github.com/mwald/cadenza/pkg/models"
)

// Registry maps provider keys to invokers and dispatches calls by
// model profile.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]ModelInvoker
}

// NewRegistry creates a Registry preloaded with the given invokers.
func NewRegistry(invokers ...ModelInvoker) *Registry {
	r := &Registry{invokers: make(map[string]ModelInvoker)}
	for _, inv := range invokers {
		r.invokers[inv.Name()] = inv
	}
	return r
}

// Register adds or replaces an invoker under its own name.
func (r *Registry) Register(inv ModelInvoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[inv.Name()] = inv
}

// Get returns the invoker for a provider key.
func (r *Registry) Get(provider string) (ModelInvoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[provider]
	return inv, ok
}

// Available reports whether the named provider exists and has credentials.
func (r *Registry) Available(provider string) bool {
	inv, ok := r.Get(provider)
	return ok && inv.Available()
}

// Invoke dispatches one call to the profile's provider.
func (r *Registry) Invoke(ctx context.Context, profile models.ModelProfile, system, prompt string) (*Invocation, error) {
	inv, ok := r.Get(profile.Provider)
	if !ok {
		return nil, &models.ValidationError{
			Field:  "provider",
			Reason: "unknown provider " + profile.Provider,
		}
	}
	return inv.Invoke(ctx, profile.ID, system, prompt)
}
