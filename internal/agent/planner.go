package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/logging"
	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/tools"
)

const (
	// DefaultMaxSteps caps the number of steps in one plan.
	DefaultMaxSteps = 8

	// plannerHistoryWindow is the number of recent messages shown to the planner.
	plannerHistoryWindow = 20
)

// PlanSource records which planning path produced a plan.
type PlanSource string

const (
	PlanSourceSmalltalk PlanSource = "smalltalk"
	PlanSourceHeuristic PlanSource = "heuristic"
	PlanSourceOther     PlanSource = "route_other"
	PlanSourceSkipTools PlanSource = "skip_tools"
	PlanSourceLLM       PlanSource = "llm"
	PlanSourceFallback  PlanSource = "fallback"
)

// PlanRequest is the input to one planning call.
type PlanRequest struct {
	// Question is the user's question.
	Question string
	// Route is the router's classification.
	Route Route
	// Memory is the session memory. The planner only reads it.
	Memory *memory.Memory
	// History is the conversation so far, oldest first.
	History []*schema.Message
	// Feedback is the reflection feedback; empty on the first round.
	Feedback string
	// PreviousSteps is the plan executed in the previous round.
	PreviousSteps []Step
	// PreviousObservations are the observations of the previous round.
	PreviousObservations []string
}

// Plan is an ordered list of steps and the path that produced it.
type Plan struct {
	Steps  []Step
	Source PlanSource
}

// Planner produces tool plans.
type Planner struct {
	chat       Chatter
	maxSteps   int
	heuristics Heuristics
}

// NewPlanner returns a Planner. A nil chat disables LLM planning; a
// non-positive maxSteps uses DefaultMaxSteps.
func NewPlanner(chat Chatter, maxSteps int) *Planner {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Planner{chat: chat, maxSteps: maxSteps, heuristics: DefaultHeuristics{}}
}

// WithHeuristics replaces the rule-based fast paths. A nil h disables them.
func (p *Planner) WithHeuristics(h Heuristics) *Planner {
	p.heuristics = h
	return p
}

// Plan returns the steps for req. It never fails: every path that cannot
// produce a plan degrades to an empty plan or a single retrieve step.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) Plan {
	question := strings.TrimSpace(req.Question)
	mem := req.Memory
	if mem == nil {
		mem = memory.New()
	}

	if req.Route == RouteSmalltalk {
		return Plan{Source: PlanSourceSmalltalk}
	}
	if p.heuristics != nil && strings.TrimSpace(req.Feedback) == "" {
		if steps := p.heuristics.Plan(question, mem); steps != nil {
			return Plan{Steps: p.limit(steps), Source: PlanSourceHeuristic}
		}
	}
	if req.Route == RouteOther {
		return Plan{Source: PlanSourceOther}
	}
	if req.Route == RouteUnknown && shouldSkipTools(question) {
		return Plan{Source: PlanSourceSkipTools}
	}

	if p.chat != nil {
		steps, err := p.planLLM(ctx, req, mem)
		if err == nil && len(steps) > 0 {
			return Plan{Steps: steps, Source: PlanSourceLLM}
		}
		if err != nil {
			logging.FromContext(ctx).Warn("planner: llm plan unusable, falling back", slog.Any("error", err))
		}
	}

	return Plan{
		Steps:  []Step{{Tool: tools.Retrieve, Input: question, Reason: "fallback retrieve"}},
		Source: PlanSourceFallback,
	}
}

func (p *Planner) planLLM(ctx context.Context, req PlanRequest, mem *memory.Memory) ([]Step, error) {
	history := req.History
	if len(history) > plannerHistoryWindow {
		history = history[len(history)-plannerHistoryWindow:]
	}
	req.Memory = mem

	msgs := []*schema.Message{
		schema.SystemMessage(plannerSystemPrompt(p.maxSteps)),
		schema.UserMessage(planUserPrompt(req, p.maxSteps, history)),
	}
	temp := float32(0)
	out, err := p.chat.Chat(ctx, msgs, &temp)
	if err != nil {
		return nil, err
	}

	steps, err := parsePlanOutput(out)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, nil
	}

	if !hasTool(steps, tools.Retrieve) && !mem.HasContext() {
		grounding := Step{Tool: tools.Retrieve, Input: tools.UseQuestion, Reason: "force grounding"}
		steps = append([]Step{grounding}, steps...)
	}
	return p.limit(steps), nil
}

func (p *Planner) limit(steps []Step) []Step {
	if len(steps) > p.maxSteps {
		return steps[:p.maxSteps]
	}
	return steps
}

func hasTool(steps []Step, name tools.Name) bool {
	for _, s := range steps {
		if s.Tool == name {
			return true
		}
	}
	return false
}
