// Package planner turns a task request into an ordered step plan.
// The heuristic planner works without any provider; the model-backed
// planner asks an AI backend for a numbered plan and falls back to the
// heuristic when the call fails.
package planner

import (
	"context"
	"regexp"
	"strings"

	"github.com/mwald/cadenza/pkg/models"
)

// maxHeuristicSteps caps how many steps the heuristic splitter produces.
const maxHeuristicSteps = 8

// Heuristic builds a plan by splitting the request into clauses. It is
// deterministic and needs no credentials.
type Heuristic struct{}

// NewHeuristic creates the heuristic planner.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// clauseSplit matches the separators that delimit independent clauses in
// a request: numbered list markers, "then", "and then", semicolons,
// newlines.
var clauseSplit = regexp.MustCompile(`(?im)\s*(?:;|\n+|\band then\b|\bthen\b|^\d+[.)])\s*`)

// Plan splits the request into ordered steps. Every plan ends with an
// optional verification step, so a failing verification never fails the
// task by itself.
func (p *Heuristic) Plan(ctx context.Context, task *models.Task) ([]models.Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clauses := clauseSplit.Split(task.Request, -1)
	var steps []models.Step
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		steps = append(steps, models.Step{
			Description: clause,
			Status:      models.StepStatusPending,
		})
		if len(steps) == maxHeuristicSteps {
			break
		}
	}

	if len(steps) == 0 {
		steps = append(steps, models.Step{
			Description: task.Request,
			Status:      models.StepStatusPending,
		})
	}

	steps = append(steps, models.Step{
		Description: "Verify the results and summarize the outcome",
		Status:      models.StepStatusPending,
		Optional:    true,
	})
	return steps, nil
}
