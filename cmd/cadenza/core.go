package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/mwald/cadenza/internal/bus"
	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/internal/control"
	"github.com/mwald/cadenza/internal/executor"
	"github.com/mwald/cadenza/internal/history"
	"github.com/mwald/cadenza/internal/orchestrator"
	"github.com/mwald/cadenza/internal/planner"
	"github.com/mwald/cadenza/internal/provider"
	"github.com/mwald/cadenza/internal/reliability"
	"github.com/mwald/cadenza/internal/router"
	"github.com/mwald/cadenza/internal/scheduler"
	"github.com/mwald/cadenza/pkg/models"
)

// Core is the assembled orchestration stack.
type Core struct {
	Config       *config.Config
	Bus          *bus.Bus
	Providers    *provider.Registry
	Router       *router.Router
	Reliability  *reliability.Manager
	Registry     *orchestrator.Registry
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler

	recorder *history.Recorder
	store    *history.Store
	watcher  *control.Watcher
	debugLog *scheduler.DebugLogger
}

// NewCore wires the full stack from configuration. workspaceRoot anchors
// the debug log, the history database, and the control directory.
func NewCore(cfg *config.Config, workspaceRoot string) (*Core, error) {
	b := bus.New()

	providers := provider.NewRegistry(
		provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:     cfg.Anthropic.APIKey,
			UseBedrock: cfg.AWS.UseBedrock,
			AWSRegion:  cfg.AWS.Region,
			AWSProfile: cfg.AWS.Profile,
		}),
		provider.NewBaseline(),
	)

	reliable := reliability.NewManager(
		cfg.Reliability.FailureThreshold,
		cfg.Reliability.Cooldown,
		reliability.WithCallRetries(cfg.Reliability.CallRetries, cfg.Reliability.CallBackoff),
	)

	// A model is routable when its provider has credentials and its
	// breaker admits calls.
	prober := router.ProberFunc(func(p models.ModelProfile) bool {
		return providers.Available(p.Provider) && reliable.Allows("provider:"+p.Provider)
	})
	rt := router.New(router.Strategy(cfg.Router.Strategy), router.DefaultProfiles(), prober, cfg.Router.WindowSize)

	registry := orchestrator.DefaultRegistry()
	if cfg.Agents.File != "" {
		if err := registry.LoadFile(cfg.Agents.File); err != nil {
			return nil, fmt.Errorf("loading agents: %w", err)
		}
	}

	caller := &modelCaller{providers: providers, router: rt, reliable: reliable}
	orch := orchestrator.New(registry, reliable, caller)

	exec := executor.New(
		planner.NewModel(rt, providers),
		&stepRunner{orch: orch},
		cfg.Executor,
	)

	core := &Core{
		Config:       cfg,
		Bus:          b,
		Providers:    providers,
		Router:       rt,
		Reliability:  reliable,
		Registry:     registry,
		Orchestrator: orch,
		Scheduler:    scheduler.New(cfg.Scheduler, exec, b),
	}

	if cfg.History.Enabled {
		path := cfg.History.Path
		if path == "" {
			path = history.DefaultPath(workspaceRoot)
		}
		store, err := history.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		core.store = store
		core.recorder = history.NewRecorder(store, b)
	}

	core.debugLog = scheduler.EnableDebugLog(workspaceRoot)
	return core, nil
}

// Start launches the scheduler and the control-file watcher.
func (c *Core) Start(ctx context.Context, workspaceRoot string) error {
	c.Scheduler.Start(ctx)

	watcher, err := control.Start(workspaceRoot, c.Scheduler)
	if err != nil {
		charmlog.Warn("control watcher unavailable", "err", err)
	} else {
		c.watcher = watcher
	}
	return nil
}

// Shutdown stops the scheduler, drains the event bus into history, and
// closes all resources.
func (c *Core) Shutdown() {
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.Scheduler.Stop()
	c.Bus.Close()
	if c.recorder != nil {
		c.recorder.Wait()
	}
	if c.store != nil {
		c.store.Close()
	}
	if c.debugLog != nil {
		c.debugLog.Close()
	}
}

// History returns the history store, or nil when persistence is disabled.
func (c *Core) History() *history.Store {
	return c.store
}

// modelCaller turns one agent invocation into a routed model call. It is
// the single join point between the orchestrator, router, reliability
// manager, and provider registry.
type modelCaller struct {
	providers *provider.Registry
	router    *router.Router
	reliable  *reliability.Manager
}

// Call routes the prompt to a model, wraps the provider call in the
// provider-level circuit breaker, and feeds the outcome back into the
// router's rolling window.
func (m *modelCaller) Call(ctx context.Context, agent models.AgentDescriptor, prompt string) (models.AgentResponse, error) {
	decision := m.router.Route(router.SignalsFromRequest(prompt))

	system := agentSystemPrompt(agent)

	var inv *provider.Invocation
	err := m.reliable.Do(ctx, "provider:"+decision.Model.Provider, func(ctx context.Context, key string) error {
		var callErr error
		inv, callErr = m.providers.Invoke(ctx, decision.Model, system, prompt)
		return callErr
	})
	if err != nil {
		m.router.Observe(decision.Model.ID, 0, 0, false, true)
		return models.AgentResponse{}, err
	}

	cost := decision.Model.CostPerMTok * float64(inv.TotalTokens()) / 1e6
	m.router.Observe(decision.Model.ID, inv.Latency, cost, true, false)

	resp := parseAgentResponse(agent.Name, inv.Text)
	resp.TokensUsed = int(inv.TotalTokens())
	resp.LatencyMs = inv.Latency.Milliseconds()
	return resp, nil
}

// agentSystemPrompt frames the model call with the agent's specialty.
func agentSystemPrompt(agent models.AgentDescriptor) string {
	var sb strings.Builder
	sb.WriteString("You are ")
	sb.WriteString(agent.Name)
	if len(agent.Specialties) > 0 {
		sb.WriteString(", a specialist in ")
		sb.WriteString(strings.Join(agent.Specialties, ", "))
	}
	sb.WriteString(". Answer the request directly. End with lines of the form\n")
	sb.WriteString("Finding: <one discrete observation>\n")
	sb.WriteString("Recommendation: <one-line recommendation>\n")
	sb.WriteString("Confidence: <0.0-1.0>")
	return sb.String()
}

// parseAgentResponse extracts findings, the recommendation, and the
// self-reported confidence from the response text.
func parseAgentResponse(agentName, text string) models.AgentResponse {
	resp := models.AgentResponse{
		Agent:      agentName,
		Confidence: 0.5,
	}

	var body []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Finding:"):
			if f := strings.TrimSpace(strings.TrimPrefix(trimmed, "Finding:")); f != "" {
				resp.Findings = append(resp.Findings, f)
			}
		case strings.HasPrefix(trimmed, "Recommendation:"):
			resp.Recommendation = strings.TrimSpace(strings.TrimPrefix(trimmed, "Recommendation:"))
		case strings.HasPrefix(trimmed, "Confidence:"):
			var c float64
			if _, err := fmt.Sscanf(trimmed, "Confidence: %f", &c); err == nil && c >= 0 && c <= 1 {
				resp.Confidence = c
			}
		default:
			body = append(body, line)
		}
	}
	resp.Text = strings.TrimSpace(strings.Join(body, "\n"))
	return resp
}

// stepRunner executes one plan step by orchestrating agents on it.
type stepRunner struct {
	orch *orchestrator.Orchestrator
}

// RunStep treats the step description as the request and the task's
// original request as shared context.
func (r *stepRunner) RunStep(ctx context.Context, task *models.Task, stepIndex int) (string, error) {
	step := task.Steps[stepIndex]

	opts := orchestrator.Opts{
		Context: "Overall task: " + task.Request,
	}
	if strategy, ok := task.Params["strategy"]; ok {
		opts.Strategy = orchestrator.Strategy(strategy)
	}

	result, err := r.orch.Orchestrate(ctx, step.Description, opts)
	if err != nil {
		return "", err
	}

	text := result.Synthesis.Text
	if result.Synthesis.Recommendation != "" {
		text += "\nRecommendation: " + result.Synthesis.Recommendation
	}
	return text, nil
}

// waitSettle polls until the task settles or the deadline passes, used
// by the run command for its progress display.
func waitSettle(s *scheduler.Scheduler, taskID string, poll time.Duration, onProgress func(*models.Task)) (*models.Task, error) {
	for {
		task, err := s.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		onProgress(task)
		if task.Status.Terminal() {
			return task, nil
		}
		time.Sleep(poll)
	}
}
