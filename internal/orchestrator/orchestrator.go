package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/mwald/cadenza/internal/reliability"
	"github.com/mwald/cadenza/internal/router"
	"github.com/mwald/cadenza/pkg/models"
)

// defaultMaxAgents caps how many agents one request fans out to.
const defaultMaxAgents = 3

// AgentCaller performs the actual model call for one agent. The
// orchestrator never calls a backend directly; the caller is wired to
// the router and provider registry at assembly time.
type AgentCaller interface {
	Call(ctx context.Context, agent models.AgentDescriptor, prompt string) (models.AgentResponse, error)
}

// AgentCallerFunc adapts a function to the AgentCaller interface.
type AgentCallerFunc func(ctx context.Context, agent models.AgentDescriptor, prompt string) (models.AgentResponse, error)

// Call implements AgentCaller.
func (f AgentCallerFunc) Call(ctx context.Context, agent models.AgentDescriptor, prompt string) (models.AgentResponse, error) {
	return f(ctx, agent, prompt)
}

// Opts tunes one orchestration.
type Opts struct {
	// Strategy forces a coordination strategy instead of the computed one.
	Strategy Strategy
	// MaxAgents caps the number of selected agents. Zero means the default.
	MaxAgents int
	// Context is extra caller-provided context appended to every prompt.
	Context string
}

// Result is the outcome of one orchestrated request.
type Result struct {
	// Request is the original request text.
	Request string `json:"request"`
	// Decision explains the strategy choice.
	Decision SelectionDecision `json:"decision"`
	// Candidates are the scored agents considered, best first.
	Candidates []Candidate `json:"candidates"`
	// Responses are the successful agent responses in completion order.
	Responses []models.AgentResponse `json:"responses"`
	// Failures maps failed agent names to their error text.
	Failures map[string]string `json:"failures,omitempty"`
	// Rounds is the number of collaborative rounds run (zero for other
	// strategies).
	Rounds int `json:"rounds,omitempty"`
	// Synthesis is the combined answer.
	Synthesis Synthesis `json:"synthesis"`
	// Summary reports success rate and follow-up recommendations.
	Summary Summary `json:"summary"`
}

// Summary aggregates the orchestration outcome.
type Summary struct {
	// Agents is the number of agents invoked.
	Agents int `json:"agents"`
	// Succeeded is the number of agents that returned a response.
	Succeeded int `json:"succeeded"`
	// SuccessRate is Succeeded / Agents.
	SuccessRate float64 `json:"success_rate"`
	// Recommendations are follow-up suggestions derived from the outcome.
	Recommendations []string `json:"recommendations,omitempty"`
}

// Orchestrator fans a request out to matching agents and synthesizes
// their responses.
type Orchestrator struct {
	registry  *Registry
	reliable  *reliability.Manager
	caller    AgentCaller
	maxAgents int
}

// New creates an Orchestrator. Every agent invocation goes through the
// reliability manager under the agent's name as breaker key.
func New(registry *Registry, reliable *reliability.Manager, caller AgentCaller) *Orchestrator {
	o := &Orchestrator{
		registry:  registry,
		reliable:  reliable,
		caller:    caller,
		maxAgents: defaultMaxAgents,
	}
	for _, agent := range registry.All() {
		if agent.Fallback != "" {
			reliable.SetFallback(agent.Name, agent.Fallback)
		}
	}
	return o
}

// Orchestrate selects agents for the request, coordinates them under the
// chosen strategy, and synthesizes the responses. It fails only when no
// agent can be selected or every selected agent fails.
func (o *Orchestrator) Orchestrate(ctx context.Context, request string, opts Opts) (*Result, error) {
	if strings.TrimSpace(request) == "" {
		return nil, &models.ValidationError{Field: "request", Reason: "must not be empty"}
	}

	candidates := o.registry.Select(request)
	if len(candidates) == 0 {
		if generalist, ok := o.registry.Get("generalist"); ok {
			candidates = []Candidate{{Agent: generalist, Name: generalist.Name}}
		} else {
			return nil, &models.ValidationError{Field: "request", Reason: "no agent matches the request"}
		}
	}

	maxAgents := opts.MaxAgents
	if maxAgents <= 0 {
		maxAgents = o.maxAgents
	}
	if len(candidates) > maxAgents {
		candidates = candidates[:maxAgents]
	}

	score := router.ComplexityScore(router.SignalsFromRequest(request))
	decision := ChooseStrategy(score, len(candidates))
	if opts.Strategy != "" {
		if !opts.Strategy.Valid() {
			return nil, &models.ValidationError{Field: "strategy", Reason: "unknown strategy " + string(opts.Strategy)}
		}
		decision.Strategy = opts.Strategy
		decision.Overridden = true
		decision.Reason = "forced by caller"
	}

	result := &Result{
		Request:    request,
		Decision:   decision,
		Candidates: candidates,
		Failures:   make(map[string]string),
	}

	log.Printf("[orchestrator] %d agents, strategy=%s (score=%d)",
		len(candidates), decision.Strategy, score)

	var err error
	switch decision.Strategy {
	case StrategyParallel:
		err = o.runParallel(ctx, request, opts.Context, candidates, result)
	case StrategyHierarchical:
		err = o.runHierarchical(ctx, request, opts.Context, candidates, result)
	case StrategyCollaborative:
		err = o.runCollaborative(ctx, request, opts.Context, candidates, result)
	default:
		err = o.runSequential(ctx, request, opts.Context, candidates, result)
	}
	if err != nil {
		return nil, err
	}

	if len(result.Responses) == 0 {
		return nil, fmt.Errorf("all %d agents failed", len(candidates))
	}

	result.Synthesis = Synthesize(result.Responses)
	result.Summary = summarize(len(candidates), result)
	return result, nil
}

// invoke runs one agent call through the reliability manager. A routed
// fallback key resolves to the fallback agent's descriptor.
func (o *Orchestrator) invoke(ctx context.Context, agent models.AgentDescriptor, prompt string) (models.AgentResponse, error) {
	var response models.AgentResponse

	err := o.reliable.DoWithRetry(ctx, agent.Name, func(ctx context.Context, key string) error {
		target := agent
		if key != agent.Name {
			if fallback, ok := o.registry.Get(key); ok {
				target = fallback
			}
		}
		resp, callErr := o.caller.Call(ctx, target, prompt)
		if callErr != nil {
			return callErr
		}
		response = resp
		return nil
	})
	return response, err
}

// runSequential runs agents in order, feeding each the prior outputs.
func (o *Orchestrator) runSequential(ctx context.Context, request, extra string, candidates []Candidate, result *Result) error {
	var prior []models.AgentResponse

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		prompt := buildPrompt(request, extra, prior)
		resp, err := o.invoke(ctx, c.Agent, prompt)
		if err != nil {
			result.Failures[c.Name] = err.Error()
			continue
		}
		result.Responses = append(result.Responses, resp)
		prior = append(prior, resp)
	}
	return nil
}

// runParallel runs all agents concurrently and joins the results.
func (o *Orchestrator) runParallel(ctx context.Context, request, extra string, candidates []Candidate, result *Result) error {
	type outcome struct {
		name string
		resp models.AgentResponse
		err  error
	}

	prompt := buildPrompt(request, extra, nil)
	outcomes := make([]outcome, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			resp, err := o.invoke(ctx, c.Agent, prompt)
			outcomes[i] = outcome{name: c.Name, resp: resp, err: err}
		}(i, c)
	}
	wg.Wait()

	for _, out := range outcomes {
		if out.err != nil {
			result.Failures[out.name] = out.err.Error()
			continue
		}
		result.Responses = append(result.Responses, out.resp)
	}
	return ctx.Err()
}

// runHierarchical runs the specialists in parallel, then the lead agent
// (the best-scoring candidate) reviews and merges their outputs.
func (o *Orchestrator) runHierarchical(ctx context.Context, request, extra string, candidates []Candidate, result *Result) error {
	lead := candidates[0]
	specialists := candidates[1:]

	if len(specialists) > 0 {
		if err := o.runParallel(ctx, request, extra, specialists, result); err != nil {
			return err
		}
	}

	var sb strings.Builder
	sb.WriteString("Review and merge the specialist responses below into a single answer. ")
	sb.WriteString("Resolve disagreements and state one recommendation.\n\n")
	sb.WriteString(buildPrompt(request, extra, result.Responses))

	leadResp, err := o.invoke(ctx, lead.Agent, sb.String())
	if err != nil {
		result.Failures[lead.Name] = err.Error()
		return nil
	}
	result.Responses = append(result.Responses, leadResp)
	return nil
}

// runCollaborative iterates bounded refinement rounds. Each round every
// agent sees the others' latest responses; iteration stops early once no
// agent changes its recommendation.
func (o *Orchestrator) runCollaborative(ctx context.Context, request, extra string, candidates []Candidate, result *Result) error {
	latest := make(map[string]models.AgentResponse)

	for round := 1; round <= maxCollaborativeRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Rounds = round

		changed := false
		for _, c := range candidates {
			others := make([]models.AgentResponse, 0, len(latest))
			for _, other := range candidates {
				if other.Name == c.Name {
					continue
				}
				if resp, ok := latest[other.Name]; ok {
					others = append(others, resp)
				}
			}

			prompt := buildPrompt(request, extra, others)
			if round > 1 {
				prompt = fmt.Sprintf("Refinement round %d. Revise your previous answer considering the other agents' latest responses.\n\n%s", round, prompt)
			}

			resp, err := o.invoke(ctx, c.Agent, prompt)
			if err != nil {
				result.Failures[c.Name] = err.Error()
				continue
			}
			delete(result.Failures, c.Name)

			prev, had := latest[c.Name]
			if !had || prev.Recommendation != resp.Recommendation {
				changed = true
			}
			latest[c.Name] = resp
		}

		if !changed {
			log.Printf("[orchestrator] collaborative converged after %d rounds", round)
			break
		}
	}

	// Final responses in candidate order for determinism.
	for _, c := range candidates {
		if resp, ok := latest[c.Name]; ok {
			result.Responses = append(result.Responses, resp)
		}
	}
	return nil
}

// buildPrompt assembles an agent prompt from the request, caller context,
// and any prior agent responses.
func buildPrompt(request, extra string, prior []models.AgentResponse) string {
	var sb strings.Builder
	sb.WriteString("Request: ")
	sb.WriteString(request)

	if extra != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(extra)
	}
	for _, resp := range prior {
		sb.WriteString("\n\nPrior response from ")
		sb.WriteString(resp.Agent)
		sb.WriteString(":\n")
		sb.WriteString(resp.Text)
	}
	return sb.String()
}

// summarize computes the success rate and derives recommendations.
func summarize(invoked int, result *Result) Summary {
	s := Summary{
		Agents:    invoked,
		Succeeded: len(result.Responses),
	}
	if invoked > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(invoked)
	}

	switch {
	case len(result.Failures) == 0:
		s.Recommendations = append(s.Recommendations, "all agents completed successfully")
	case s.SuccessRate >= 0.5:
		s.Recommendations = append(s.Recommendations,
			fmt.Sprintf("%d of %d agents failed; result is based on partial coverage", len(result.Failures), invoked))
	default:
		s.Recommendations = append(s.Recommendations,
			"most agents failed; check provider credentials and circuit breaker state before retrying")
	}
	if result.Synthesis.Consensus > 0 && result.Synthesis.Consensus < 0.5 {
		s.Recommendations = append(s.Recommendations,
			"low consensus between agents; consider a manual review of the findings")
	}
	return s
}
