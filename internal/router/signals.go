// Package router selects a model for each request based on a deterministic
// complexity score, the configured strategy, and provider availability.
package router

import "strings"

// ContextSignals are the inputs to the complexity score. All fields are
// derived from the request before routing; scoring itself performs no I/O.
type ContextSignals struct {
	// CodeLength is the size of the code context in characters.
	CodeLength int
	// NestingDepth is the maximum observed block nesting depth.
	NestingDepth int
	// HasImports reports whether the context declares imports.
	HasImports bool
	// HasTypeAnnotations reports whether the context uses explicit types.
	HasTypeAnnotations bool
	// HasAsync reports whether the context uses concurrency constructs.
	HasAsync bool
	// FrameworkMarkers counts recognized framework-specific markers.
	FrameworkMarkers int
}

// Score bands. Scores below bandMid map to the fast tier, scores below
// bandHigh to balanced, and everything else to accurate.
const (
	bandMid  = 35
	bandHigh = 70
)

// ComplexityScore computes a deterministic 0-100 complexity score.
// Identical signals always yield an identical score.
//
// Contribution ranges:
//   - code length:       0-25 (1 point per 200 chars)
//   - nesting depth:     0-20 (4 points per level)
//   - imports:           0-10
//   - type annotations:  0-10
//   - async constructs:  0-15
//   - framework markers: 0-20 (5 points per marker)
func ComplexityScore(sig ContextSignals) int {
	score := 0

	score += capped(sig.CodeLength/200, 25)
	score += capped(sig.NestingDepth*4, 20)
	if sig.HasImports {
		score += 10
	}
	if sig.HasTypeAnnotations {
		score += 10
	}
	if sig.HasAsync {
		score += 15
	}
	score += capped(sig.FrameworkMarkers*5, 20)

	if score > 100 {
		score = 100
	}
	return score
}

func capped(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// frameworkMarkers are substrings that indicate framework-heavy code.
var frameworkMarkers = []string{
	"http.Handler", "gin.", "echo.", "grpc.",
	"django", "flask", "fastapi", "react", "vue",
	"spring", "rails",
}

// asyncMarkers are substrings that indicate concurrency constructs.
var asyncMarkers = []string{
	"go func", "goroutine", "chan ", "async ", "await ", "Promise",
	"sync.WaitGroup", "threading", "asyncio",
}

// SignalsFromRequest derives context signals from raw request text.
// This is a heuristic extraction; callers with structured context should
// build ContextSignals directly.
func SignalsFromRequest(request string) ContextSignals {
	sig := ContextSignals{
		CodeLength: len(request),
	}

	depth, maxDepth := 0, 0
	for _, r := range request {
		switch r {
		case '{', '(':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ')':
			if depth > 0 {
				depth--
			}
		}
	}
	sig.NestingDepth = maxDepth

	lower := strings.ToLower(request)
	sig.HasImports = strings.Contains(lower, "import ") || strings.Contains(lower, "require(")
	sig.HasTypeAnnotations = strings.Contains(request, ": ") && strings.Contains(request, "->") ||
		strings.Contains(request, "interface") || strings.Contains(request, "struct")

	for _, marker := range asyncMarkers {
		if strings.Contains(request, marker) {
			sig.HasAsync = true
			break
		}
	}
	for _, marker := range frameworkMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			sig.FrameworkMarkers++
		}
	}

	return sig
}
