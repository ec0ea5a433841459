package orchestrator

import (
	"sort"
	"strings"

	"github.com/mwald/cadenza/pkg/models"
)

// Synthesis is the combined outcome of all agent responses.
type Synthesis struct {
	// Text is the confidence-weighted combined response body.
	Text string `json:"text"`
	// Recommendation is the majority recommendation across agents.
	Recommendation string `json:"recommendation,omitempty"`
	// Findings are the deduplicated findings from all agents.
	Findings []string `json:"findings,omitempty"`
	// Consensus is the fraction of agents whose recommendation agrees
	// with the majority, in [0,1]. Zero when no agent recommended.
	Consensus float64 `json:"consensus"`
	// Confidence is the weighted mean of agent confidences.
	Confidence float64 `json:"confidence"`
}

// Synthesize combines agent responses: higher-confidence responses lead
// the combined text, duplicate findings are removed, and consensus is the
// fraction of recommending agents that agree with the majority choice.
func Synthesize(responses []models.AgentResponse) Synthesis {
	var s Synthesis
	if len(responses) == 0 {
		return s
	}

	// Order by confidence, stable so equal-confidence agents keep their
	// invocation order.
	ordered := append([]models.AgentResponse(nil), responses...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	var parts []string
	var totalWeight, weightedConfidence float64
	seen := make(map[string]bool)

	for _, resp := range ordered {
		weight := resp.Confidence
		if weight <= 0 {
			weight = 0.01
		}
		totalWeight += weight
		weightedConfidence += weight * resp.Confidence

		if resp.Text != "" {
			parts = append(parts, "["+resp.Agent+"] "+resp.Text)
		}
		for _, finding := range resp.Findings {
			key := normalizeFinding(finding)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			s.Findings = append(s.Findings, finding)
		}
	}

	s.Text = strings.Join(parts, "\n\n")
	if totalWeight > 0 {
		s.Confidence = weightedConfidence / totalWeight
	}
	s.Recommendation, s.Consensus = consensus(ordered)
	return s
}

// consensus returns the majority recommendation and the fraction of
// recommending agents that agree with it. Ties break toward the
// recommendation held by the most confident agent.
func consensus(responses []models.AgentResponse) (string, float64) {
	votes := make(map[string]int)
	first := make(map[string]int) // normalized -> index of most confident holder
	display := make(map[string]string)
	total := 0

	for i, resp := range responses {
		rec := strings.TrimSpace(resp.Recommendation)
		if rec == "" {
			continue
		}
		key := strings.ToLower(rec)
		votes[key]++
		total++
		if _, ok := first[key]; !ok {
			first[key] = i
			display[key] = rec
		}
	}
	if total == 0 {
		return "", 0
	}

	bestKey := ""
	for key := range votes {
		if bestKey == "" {
			bestKey = key
			continue
		}
		if votes[key] > votes[bestKey] ||
			(votes[key] == votes[bestKey] && first[key] < first[bestKey]) {
			bestKey = key
		}
	}

	return display[bestKey], float64(votes[bestKey]) / float64(total)
}

// normalizeFinding canonicalizes a finding for deduplication.
func normalizeFinding(finding string) string {
	lower := strings.ToLower(strings.TrimSpace(finding))
	return strings.Join(strings.Fields(lower), " ")
}
