package models

// AgentDescriptor describes a named, capability-tagged agent.
// Descriptors are read-only configuration; they are never mutated at runtime.
type AgentDescriptor struct {
	// Name is the stable identifier for this agent.
	Name string `json:"name" yaml:"name"`
	// Specialties are the capability tags this agent carries.
	Specialties []string `json:"specialties" yaml:"specialties"`
	// Keywords are request terms that raise this agent's capability score.
	Keywords []string `json:"keywords" yaml:"keywords"`
	// Provider is the model provider key this agent's calls are routed through.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// Fallback is an optional agent to route to when this one's circuit is open.
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	// Score overrides keyword matching with a custom capability-scoring
	// function over a request. Optional; nil means keyword scoring.
	Score func(request string) float64 `json:"-" yaml:"-"`
}

// AgentResponse is one agent's answer to a sub-request.
type AgentResponse struct {
	// Agent is the name of the agent that produced the response.
	Agent string `json:"agent"`
	// Text is the response body.
	Text string `json:"text"`
	// Recommendation is the agent's one-line recommendation, used for
	// consensus scoring.
	Recommendation string `json:"recommendation,omitempty"`
	// Findings are discrete observations; duplicates across agents are
	// removed during synthesis.
	Findings []string `json:"findings,omitempty"`
	// Confidence is the agent's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// TokensUsed is the token count consumed by the underlying call.
	TokensUsed int `json:"tokens_used,omitempty"`
	// LatencyMs is the underlying call latency in milliseconds.
	LatencyMs int64 `json:"latency_ms,omitempty"`
}
