package router

import (
	"log"
	"sort"
	"time"

	"github.com/mwald/cadenza/pkg/models"
)

// Strategy selects how the router trades cost against quality.
type Strategy string

const (
	// StrategyFast always picks the cheapest available model.
	StrategyFast Strategy = "fast"
	// StrategyBalanced maps the complexity score to a tier.
	StrategyBalanced Strategy = "balanced"
	// StrategyAccurate favors quality, dropping to balanced only for
	// clearly simple requests.
	StrategyAccurate Strategy = "accurate"
	// StrategyAdaptive picks by rolling observed latency, cost, and
	// acceptance, falling back to balanced until data accumulates.
	StrategyAdaptive Strategy = "adaptive"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFast, StrategyBalanced, StrategyAccurate, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// adaptiveMinCalls is how many observations a model needs before the
// adaptive strategy trusts its window.
const adaptiveMinCalls = 5

// Prober answers whether a model's provider can take calls right now.
// It covers both missing credentials and an open circuit breaker.
type Prober interface {
	Available(profile models.ModelProfile) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(profile models.ModelProfile) bool

// Available implements Prober.
func (f ProberFunc) Available(profile models.ModelProfile) bool { return f(profile) }

// Decision is the outcome of one routing call.
type Decision struct {
	// Model is the selected profile.
	Model models.ModelProfile `json:"model"`
	// Score is the computed complexity score.
	Score int `json:"score"`
	// Tier is the tier the score mapped to before availability checks.
	Tier models.ModelTier `json:"tier"`
	// FellBack is true when the preferred model was unavailable and a
	// substitute (possibly the baseline) was chosen instead.
	FellBack bool `json:"fell_back,omitempty"`
}

// Router picks a model per request. Scoring is pure; only availability
// probing touches shared state.
type Router struct {
	strategy Strategy
	profiles []models.ModelProfile
	prober   Prober
	tracker  *tracker
}

// New creates a Router over the given profiles. The profile list must
// contain at least one baseline profile for credential-free fallback.
func New(strategy Strategy, profiles []models.ModelProfile, prober Prober, windowSize int) *Router {
	if !strategy.Valid() {
		strategy = StrategyBalanced
	}
	sorted := append([]models.ModelProfile(nil), profiles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CostPerMTok < sorted[j].CostPerMTok
	})
	return &Router{
		strategy: strategy,
		profiles: sorted,
		prober:   prober,
		tracker:  newTracker(windowSize),
	}
}

// DefaultProfiles returns the built-in model set: one profile per tier
// plus a credential-free baseline.
func DefaultProfiles() []models.ModelProfile {
	return []models.ModelProfile{
		{
			ID:            "claude-3-5-haiku-20241022",
			Provider:      "anthropic",
			Tier:          models.TierFast,
			CostPerMTok:   0.8,
			TargetLatency: 2 * time.Second,
		},
		{
			ID:            "claude-sonnet-4-20250514",
			Provider:      "anthropic",
			Tier:          models.TierBalanced,
			CostPerMTok:   3.0,
			TargetLatency: 5 * time.Second,
		},
		{
			ID:            "claude-opus-4-5-20251101",
			Provider:      "anthropic",
			Tier:          models.TierAccurate,
			CostPerMTok:   15.0,
			TargetLatency: 12 * time.Second,
		},
		{
			ID:            "baseline",
			Provider:      "baseline",
			Tier:          models.TierFast,
			CostPerMTok:   0,
			TargetLatency: 100 * time.Millisecond,
			Baseline:      true,
		},
	}
}

// TierForScore maps a complexity score to a model tier.
func TierForScore(score int) models.ModelTier {
	switch {
	case score < bandMid:
		return models.TierFast
	case score < bandHigh:
		return models.TierBalanced
	default:
		return models.TierAccurate
	}
}

// Route selects a model for the given signals. The same signals with the
// same strategy and availability always produce the same decision.
func (r *Router) Route(sig ContextSignals) Decision {
	score := ComplexityScore(sig)
	tier := r.targetTier(score)

	d := Decision{Score: score, Tier: tier}

	preferred, found := r.pickTier(tier)
	if found && r.available(preferred) {
		d.Model = preferred
		return d
	}

	// Preferred unavailable: try the other non-baseline profiles from
	// cheapest up, then the baseline.
	for _, p := range r.profiles {
		if p.Baseline || (found && p.ID == preferred.ID) {
			continue
		}
		if r.available(p) {
			d.Model = p
			d.FellBack = true
			return d
		}
	}

	baseline, ok := r.baseline()
	if !ok {
		// No baseline configured; return the preference and let the
		// call fail with a provider error.
		d.Model = preferred
		return d
	}
	log.Printf("[router] no provider available for tier %s, using baseline", tier)
	d.Model = baseline
	d.FellBack = true
	return d
}

// targetTier applies the strategy to a score.
func (r *Router) targetTier(score int) models.ModelTier {
	switch r.strategy {
	case StrategyFast:
		return models.TierFast
	case StrategyAccurate:
		if score < bandMid {
			return models.TierBalanced
		}
		return models.TierAccurate
	case StrategyAdaptive:
		if tier, ok := r.adaptiveTier(); ok {
			return tier
		}
		return TierForScore(score)
	default:
		return TierForScore(score)
	}
}

// adaptiveTier picks the tier of the model with the best observed
// utility, once enough observations exist.
func (r *Router) adaptiveTier() (models.ModelTier, bool) {
	best := models.ModelProfile{}
	bestUtility := 0.0
	seen := false

	for _, p := range r.profiles {
		if p.Baseline {
			continue
		}
		stats := r.tracker.statsFor(p.ID)
		if stats.Calls < adaptiveMinCalls {
			continue
		}
		utility := stats.AcceptanceRate / (1 + stats.AvgLatency.Seconds() + stats.AvgCost)
		if !seen || utility > bestUtility {
			best = p
			bestUtility = utility
			seen = true
		}
	}

	if !seen {
		return "", false
	}
	return best.Tier, true
}

// pickTier returns the cheapest non-baseline profile of the tier.
func (r *Router) pickTier(tier models.ModelTier) (models.ModelProfile, bool) {
	for _, p := range r.profiles {
		if !p.Baseline && p.Tier == tier {
			return p, true
		}
	}
	return models.ModelProfile{}, false
}

// baseline returns the credential-free fallback profile.
func (r *Router) baseline() (models.ModelProfile, bool) {
	for _, p := range r.profiles {
		if p.Baseline {
			return p, true
		}
	}
	return models.ModelProfile{}, false
}

func (r *Router) available(p models.ModelProfile) bool {
	if p.Baseline {
		return true
	}
	if r.prober == nil {
		return true
	}
	return r.prober.Available(p)
}

// Observe records a completed call's outcome into the rolling window.
// hasAcceptance marks whether accepted carries a real signal.
func (r *Router) Observe(model string, latency time.Duration, cost float64, accepted, hasAcceptance bool) {
	r.tracker.record(model, observation{
		latency:       latency,
		cost:          cost,
		accepted:      accepted,
		hasAcceptance: hasAcceptance,
	})
}

// Stats returns the rolling window summary for one model.
func (r *Router) Stats(model string) ModelStats {
	return r.tracker.statsFor(model)
}

// Profiles returns the configured profiles, cheapest first.
func (r *Router) Profiles() []models.ModelProfile {
	return append([]models.ModelProfile(nil), r.profiles...)
}
