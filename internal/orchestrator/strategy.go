package orchestrator

import "fmt"

// Strategy is the coordination pattern for a set of selected agents.
type Strategy string

const (
	// StrategySequential runs agents one after another, each seeing the
	// prior agents' outputs as additional context.
	StrategySequential Strategy = "sequential"
	// StrategyParallel runs independent agents concurrently and joins
	// their results.
	StrategyParallel Strategy = "parallel"
	// StrategyHierarchical runs specialists in parallel and has a lead
	// agent review and merge their outputs.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyCollaborative iterates agents in bounded rounds, each round
	// refining based on the others' latest output.
	StrategyCollaborative Strategy = "collaborative"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyHierarchical, StrategyCollaborative:
		return true
	default:
		return false
	}
}

// maxCollaborativeRounds is the hard cap on collaborative refinement rounds.
const maxCollaborativeRounds = 3

// SelectionDecision explains how a strategy was chosen, so callers can
// inspect (and override) the selection.
type SelectionDecision struct {
	// Strategy is the chosen coordination pattern.
	Strategy Strategy `json:"strategy"`
	// ComplexityScore is the request's complexity score used as input.
	ComplexityScore int `json:"complexity_score"`
	// AgentCount is the number of selected agents.
	AgentCount int `json:"agent_count"`
	// Overridden is true when the caller forced the strategy.
	Overridden bool `json:"overridden,omitempty"`
	// Reason is a human-readable explanation of the choice.
	Reason string `json:"reason"`
}

// ChooseStrategy picks a coordination strategy from request complexity
// and agent count:
//   - one agent always runs sequentially (degenerate case);
//   - simple requests run independent agents in parallel;
//   - moderate requests chain agents, or merge under a lead when three
//     or more are involved;
//   - the most complex multi-agent requests iterate collaboratively.
func ChooseStrategy(complexityScore, agentCount int) SelectionDecision {
	d := SelectionDecision{
		ComplexityScore: complexityScore,
		AgentCount:      agentCount,
	}

	switch {
	case agentCount <= 1:
		d.Strategy = StrategySequential
		d.Reason = "single agent, nothing to coordinate"
	case complexityScore >= 70 && agentCount >= 3:
		d.Strategy = StrategyCollaborative
		d.Reason = fmt.Sprintf("high complexity (%d) with %d agents, iterating to convergence", complexityScore, agentCount)
	case complexityScore >= 70:
		d.Strategy = StrategyHierarchical
		d.Reason = fmt.Sprintf("high complexity (%d), lead agent reviews specialist output", complexityScore)
	case complexityScore >= 35 && agentCount >= 3:
		d.Strategy = StrategyHierarchical
		d.Reason = fmt.Sprintf("moderate complexity (%d) across %d agents, merging under a lead", complexityScore, agentCount)
	case complexityScore >= 35:
		d.Strategy = StrategySequential
		d.Reason = fmt.Sprintf("moderate complexity (%d), agents build on each other's output", complexityScore)
	default:
		d.Strategy = StrategyParallel
		d.Reason = fmt.Sprintf("low complexity (%d), independent agents run concurrently", complexityScore)
	}
	return d
}
