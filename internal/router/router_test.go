package router

import (
	"testing"
	"time"

	"github.com/mwald/cadenza/pkg/models"
)

func allAvailable(models.ModelProfile) bool  { return true }
func noneAvailable(models.ModelProfile) bool { return false }

func TestComplexityScoreDeterministic(t *testing.T) {
	sig := ContextSignals{
		CodeLength:         3000,
		NestingDepth:       4,
		HasImports:         true,
		HasAsync:           true,
		FrameworkMarkers:   2,
		HasTypeAnnotations: false,
	}

	first := ComplexityScore(sig)
	for i := 0; i < 10; i++ {
		if got := ComplexityScore(sig); got != first {
			t.Fatalf("score changed between calls: %d vs %d", first, got)
		}
	}

	// 15 (length) + 16 (nesting) + 10 (imports) + 15 (async) + 10 (markers)
	if first != 66 {
		t.Errorf("expected score 66, got %d", first)
	}
}

func TestComplexityScoreBounds(t *testing.T) {
	if got := ComplexityScore(ContextSignals{}); got != 0 {
		t.Errorf("empty signals: expected 0, got %d", got)
	}

	huge := ContextSignals{
		CodeLength:         1 << 20,
		NestingDepth:       100,
		HasImports:         true,
		HasTypeAnnotations: true,
		HasAsync:           true,
		FrameworkMarkers:   50,
	}
	if got := ComplexityScore(huge); got != 100 {
		t.Errorf("saturated signals: expected 100, got %d", got)
	}
}

func TestTierForScore(t *testing.T) {
	cases := []struct {
		score int
		tier  models.ModelTier
	}{
		{0, models.TierFast},
		{34, models.TierFast},
		{35, models.TierBalanced},
		{69, models.TierBalanced},
		{70, models.TierAccurate},
		{100, models.TierAccurate},
	}
	for _, tc := range cases {
		if got := TierForScore(tc.score); got != tc.tier {
			t.Errorf("score %d: expected %s, got %s", tc.score, tc.tier, got)
		}
	}
}

func TestFastStrategyAlwaysCheapest(t *testing.T) {
	r := New(StrategyFast, DefaultProfiles(), ProberFunc(allAvailable), 10)

	d := r.Route(ContextSignals{CodeLength: 1 << 20, NestingDepth: 50, HasAsync: true})
	if d.Model.Tier != models.TierFast {
		t.Errorf("expected fast tier regardless of score, got %s", d.Model.Tier)
	}
	if d.Model.Baseline {
		t.Error("fast strategy should pick a real model, not the baseline")
	}
}

func TestBalancedStrategyFollowsBands(t *testing.T) {
	r := New(StrategyBalanced, DefaultProfiles(), ProberFunc(allAvailable), 10)

	low := r.Route(ContextSignals{CodeLength: 100})
	if low.Model.Tier != models.TierFast {
		t.Errorf("low score: expected fast, got %s (score %d)", low.Model.Tier, low.Score)
	}

	mid := r.Route(ContextSignals{CodeLength: 3000, HasImports: true, HasAsync: true})
	if mid.Model.Tier != models.TierBalanced {
		t.Errorf("mid score: expected balanced, got %s (score %d)", mid.Model.Tier, mid.Score)
	}

	high := r.Route(ContextSignals{
		CodeLength: 6000, NestingDepth: 5,
		HasImports: true, HasTypeAnnotations: true, HasAsync: true,
		FrameworkMarkers: 3,
	})
	if high.Model.Tier != models.TierAccurate {
		t.Errorf("high score: expected accurate, got %s (score %d)", high.Model.Tier, high.Score)
	}
}

func TestAccurateStrategyFavorsQuality(t *testing.T) {
	r := New(StrategyAccurate, DefaultProfiles(), ProberFunc(allAvailable), 10)

	mid := r.Route(ContextSignals{CodeLength: 3000, HasImports: true, HasAsync: true})
	if mid.Model.Tier != models.TierAccurate {
		t.Errorf("mid score: expected accurate, got %s", mid.Model.Tier)
	}

	low := r.Route(ContextSignals{CodeLength: 100})
	if low.Model.Tier != models.TierBalanced {
		t.Errorf("low score: expected balanced, got %s", low.Model.Tier)
	}
}

func TestFallbackToBaselineWhenUnavailable(t *testing.T) {
	r := New(StrategyBalanced, DefaultProfiles(), ProberFunc(noneAvailable), 10)

	d := r.Route(ContextSignals{CodeLength: 3000, HasImports: true, HasAsync: true})
	if !d.FellBack {
		t.Error("expected fallback flag")
	}
	if !d.Model.Baseline {
		t.Errorf("expected baseline profile, got %s", d.Model.ID)
	}
	// Score and tier still reflect the original computation.
	if d.Tier != models.TierBalanced {
		t.Errorf("expected computed tier balanced, got %s", d.Tier)
	}
}

func TestFallbackPrefersOtherRealModels(t *testing.T) {
	// Only the accurate model is available.
	prober := ProberFunc(func(p models.ModelProfile) bool {
		return p.Tier == models.TierAccurate
	})
	r := New(StrategyBalanced, DefaultProfiles(), prober, 10)

	d := r.Route(ContextSignals{CodeLength: 100})
	if !d.FellBack {
		t.Error("expected fallback flag")
	}
	if d.Model.Baseline {
		t.Error("expected a real model before the baseline")
	}
	if d.Model.Tier != models.TierAccurate {
		t.Errorf("expected the available accurate model, got %s", d.Model.ID)
	}
}

func TestAdaptiveUsesObservations(t *testing.T) {
	r := New(StrategyAdaptive, DefaultProfiles(), ProberFunc(allAvailable), 20)

	// The fast model performs well; the balanced model is slow and rejected.
	for i := 0; i < 10; i++ {
		r.Observe("claude-3-5-haiku-20241022", 500*time.Millisecond, 0.001, true, true)
		r.Observe("claude-sonnet-4-20250514", 8*time.Second, 0.01, false, true)
	}

	d := r.Route(ContextSignals{CodeLength: 3000, HasImports: true, HasAsync: true})
	if d.Model.Tier != models.TierFast {
		t.Errorf("expected adaptive to pick the observed best tier, got %s", d.Model.Tier)
	}
}

func TestAdaptiveFallsBackToBandsWithoutData(t *testing.T) {
	r := New(StrategyAdaptive, DefaultProfiles(), ProberFunc(allAvailable), 20)

	d := r.Route(ContextSignals{CodeLength: 3000, HasImports: true, HasAsync: true})
	if d.Model.Tier != models.TierBalanced {
		t.Errorf("expected band behavior without observations, got %s", d.Model.Tier)
	}
}

func TestWindowRollsOver(t *testing.T) {
	r := New(StrategyAdaptive, DefaultProfiles(), ProberFunc(allAvailable), 4)

	for i := 0; i < 10; i++ {
		r.Observe("m", time.Second, 0.01, true, true)
	}

	stats := r.Stats("m")
	if stats.Calls != 4 {
		t.Errorf("expected window capped at 4, got %d", stats.Calls)
	}
	if stats.AvgLatency != time.Second {
		t.Errorf("expected avg latency 1s, got %s", stats.AvgLatency)
	}
	if stats.AcceptanceRate != 1.0 {
		t.Errorf("expected acceptance 1.0, got %f", stats.AcceptanceRate)
	}
}

func TestStatsWithoutAcceptanceSignal(t *testing.T) {
	r := New(StrategyAdaptive, DefaultProfiles(), ProberFunc(allAvailable), 10)

	r.Observe("m", time.Second, 0.01, false, false)
	r.Observe("m", 3*time.Second, 0.03, false, false)

	stats := r.Stats("m")
	if stats.AcceptanceRate != 1.0 {
		t.Errorf("no acceptance signal should read 1.0, got %f", stats.AcceptanceRate)
	}
	if stats.AvgLatency != 2*time.Second {
		t.Errorf("expected avg latency 2s, got %s", stats.AvgLatency)
	}
}

func TestSignalsFromRequest(t *testing.T) {
	sig := SignalsFromRequest("import asyncio\nasync def handler(): {{{}}}")
	if !sig.HasImports {
		t.Error("expected imports detected")
	}
	if !sig.HasAsync {
		t.Error("expected async detected")
	}
	if sig.NestingDepth < 3 {
		t.Errorf("expected nesting depth >= 3, got %d", sig.NestingDepth)
	}
}
