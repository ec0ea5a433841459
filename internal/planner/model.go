package planner

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/mwald/cadenza/internal/provider"
	"github.com/mwald/cadenza/internal/router"
	"github.com/mwald/cadenza/pkg/models"
)

const planSystemPrompt = "You are a task planner. Produce a short numbered list of concrete, " +
	"independent steps that accomplish the request. One step per line, no prose. " +
	"Suffix a step with \"(optional)\" if its failure should not abort the task."

// Model asks an AI backend for a numbered plan, routed through the model
// router. Any failure falls back to the heuristic planner, so planning
// itself never depends on provider health.
type Model struct {
	router    *router.Router
	providers *provider.Registry
	fallback  *Heuristic
}

// NewModel creates a model-backed planner.
func NewModel(r *router.Router, providers *provider.Registry) *Model {
	return &Model{
		router:    r,
		providers: providers,
		fallback:  NewHeuristic(),
	}
}

// Plan requests a numbered step list from the routed model.
func (p *Model) Plan(ctx context.Context, task *models.Task) ([]models.Step, error) {
	decision := p.router.Route(router.SignalsFromRequest(task.Request))

	inv, err := p.providers.Invoke(ctx, decision.Model, planSystemPrompt, task.Request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[planner] model plan failed (%v), using heuristic", err)
		return p.fallback.Plan(ctx, task)
	}
	p.router.Observe(decision.Model.ID, inv.Latency, costOf(decision.Model, inv), true, false)

	steps := parsePlan(inv.Text)
	if len(steps) == 0 {
		return p.fallback.Plan(ctx, task)
	}
	return steps, nil
}

// numberedLine matches "1. step", "2) step", or "- step" plan lines.
var numberedLine = regexp.MustCompile(`^\s*(?:\d+[.)]|-)\s+(\S.*)$`)

// optionalSuffix marks a step whose failure should not abort the task.
var optionalSuffix = regexp.MustCompile(`(?i)\s*\(optional\)\s*$`)

// parsePlan extracts steps from a numbered-list response.
func parsePlan(text string) []models.Step {
	var steps []models.Step
	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[1])
		optional := optionalSuffix.MatchString(desc)
		if optional {
			desc = strings.TrimSpace(optionalSuffix.ReplaceAllString(desc, ""))
		}
		if desc == "" {
			continue
		}
		steps = append(steps, models.Step{
			Description: desc,
			Status:      models.StepStatusPending,
			Optional:    optional,
		})
	}
	return steps
}

// costOf estimates the call cost in USD from the profile's blended rate.
func costOf(profile models.ModelProfile, inv *provider.Invocation) float64 {
	return profile.CostPerMTok * float64(inv.TotalTokens()) / 1e6
}
