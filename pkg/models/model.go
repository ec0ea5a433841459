package models

import "time"

// ModelTier is a cost/latency/quality class of AI backend.
type ModelTier string

const (
	// TierFast is the cheap, low-latency class for simple requests.
	TierFast ModelTier = "fast"
	// TierBalanced is the default class for standard work.
	TierBalanced ModelTier = "balanced"
	// TierAccurate is the expensive, high-quality class for complex requests.
	TierAccurate ModelTier = "accurate"
)

// Valid returns true if the tier is a known value.
func (t ModelTier) Valid() bool {
	switch t {
	case TierFast, TierBalanced, TierAccurate:
		return true
	default:
		return false
	}
}

// ModelProfile is the static configuration for one routable model.
type ModelProfile struct {
	// ID is the model identifier passed to the provider.
	ID string `json:"id" yaml:"id"`
	// Provider is the provider key this model belongs to.
	Provider string `json:"provider" yaml:"provider"`
	// Tier is the quality class this model serves.
	Tier ModelTier `json:"tier" yaml:"tier"`
	// CostPerMTok is the blended cost in USD per million tokens.
	CostPerMTok float64 `json:"cost_per_mtok" yaml:"cost_per_mtok"`
	// TargetLatency is the expected per-call latency.
	TargetLatency time.Duration `json:"target_latency" yaml:"target_latency"`
	// Baseline marks the provider that needs no optional credentials.
	// The router falls back to a baseline profile when the preferred
	// provider is unavailable.
	Baseline bool `json:"baseline,omitempty" yaml:"baseline,omitempty"`
}
