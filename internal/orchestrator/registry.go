// Package orchestrator coordinates multiple specialist agents on a single
// request: it selects the agents whose capabilities match, picks a
// coordination strategy, runs the agents through the reliability layer,
// and synthesizes their responses into one result.
package orchestrator

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mwald/cadenza/pkg/models"
)

// minSelectionScore is the capability score an agent needs to be selected.
const minSelectionScore = 1.0

// Registry holds the known agent descriptors, keyed by stable name.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]models.AgentDescriptor
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]models.AgentDescriptor)}
}

// Register adds or replaces a descriptor. Registration order is preserved
// for deterministic tie-breaking during selection.
func (r *Registry) Register(agent models.AgentDescriptor) error {
	if agent.Name == "" {
		return &models.ValidationError{Field: "agent.name", Reason: "must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.Name]; !exists {
		r.order = append(r.order, agent.Name)
	}
	r.agents[agent.Name] = agent
	return nil
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (models.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// All returns every descriptor in registration order.
func (r *Registry) All() []models.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AgentDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Candidate is one agent's capability score against a request.
type Candidate struct {
	// Agent is the scored descriptor.
	Agent models.AgentDescriptor `json:"-"`
	// Name is the agent's stable identifier.
	Name string `json:"name"`
	// Score is the capability score; higher matches better.
	Score float64 `json:"score"`
	// MatchedKeywords are the request terms that contributed.
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// Select scores every registered agent against the request and returns
// the candidates at or above the selection threshold, best first. Ties
// break by registration order so selection is deterministic.
func (r *Registry) Select(request string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(request)
	var candidates []Candidate

	for i, name := range r.order {
		agent := r.agents[name]
		c := Candidate{Agent: agent, Name: name}

		if agent.Score != nil {
			c.Score = agent.Score(request)
		} else {
			for _, kw := range agent.Keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					c.Score++
					c.MatchedKeywords = append(c.MatchedKeywords, kw)
				}
			}
		}

		if c.Score >= minSelectionScore {
			c.Score += float64(len(r.order)-i) * 1e-9 // registration-order tiebreak
			candidates = append(candidates, c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// LoadFile merges agent descriptors from a YAML file into the registry.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading agents file: %w", err)
	}

	var doc struct {
		Agents []models.AgentDescriptor `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing agents file %s: %w", path, err)
	}

	for _, agent := range doc.Agents {
		if err := r.Register(agent); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRegistry returns a registry preloaded with the built-in
// specialist agents.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, agent := range defaultAgents() {
		r.Register(agent)
	}
	return r
}

func defaultAgents() []models.AgentDescriptor {
	return []models.AgentDescriptor{
		{
			Name:        "backend-expert",
			Specialties: []string{"api", "services", "persistence"},
			Keywords: []string{
				"api", "database", "server", "backend", "endpoint",
				"auth", "rest", "graphql", "sql", "migration",
			},
			Provider: "anthropic",
			Fallback: "generalist",
		},
		{
			Name:        "frontend-expert",
			Specialties: []string{"ui", "components"},
			Keywords: []string{
				"react", "component", "ui", "frontend", "css",
				"router", "page", "form", "layout",
			},
			Provider: "anthropic",
			Fallback: "generalist",
		},
		{
			Name:        "devops-expert",
			Specialties: []string{"ci", "deployment"},
			Keywords: []string{
				"docker", "deploy", "ci", "cd", "pipeline",
				"kubernetes", "build", "release", "terraform",
			},
			Provider: "anthropic",
			Fallback: "generalist",
		},
		{
			Name:        "security-expert",
			Specialties: []string{"security", "review"},
			Keywords: []string{
				"security", "vulnerability", "injection", "xss",
				"secrets", "crypto", "tls", "audit",
			},
			Provider: "anthropic",
			Fallback: "generalist",
		},
		{
			Name:        "performance-expert",
			Specialties: []string{"profiling", "optimization"},
			Keywords: []string{
				"performance", "slow", "optimize", "latency",
				"memory", "profiling", "benchmark", "cache",
			},
			Provider: "anthropic",
			Fallback: "generalist",
		},
		{
			Name:        "generalist",
			Specialties: []string{"general"},
			Keywords:    []string{"implement", "write", "create", "help", "explain"},
			Provider:    "anthropic",
		},
	}
}
