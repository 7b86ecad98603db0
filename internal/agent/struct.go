package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/retrieval"
	"github.com/54b3r/ragent-go/internal/tools"
)

// Route is the router's classification of a question.
type Route string

const (
	// RouteNeedsRetrieval means the question should be answered from the corpus.
	RouteNeedsRetrieval Route = "needs_retrieval"
	// RouteSmalltalk means greetings or chit-chat; no tools run.
	RouteSmalltalk Route = "smalltalk"
	// RouteOther means a general question that needs no corpus lookup.
	RouteOther Route = "other"
	// RouteUnknown means classification failed; planning proceeds normally.
	RouteUnknown Route = "unknown"
)

// Step is one planned tool invocation.
type Step struct {
	// Tool is the tool to invoke.
	Tool tools.Name `json:"tool"`
	// Input is the tool-specific input string.
	Input string `json:"input"`
	// Reason is the planner's rationale. It is never executed.
	Reason string `json:"reason"`
}

// TraceStep is the audit record of one executed or skipped step.
type TraceStep struct {
	// StepNo numbers steps across all rounds, starting at 1.
	StepNo int `json:"step_no"`
	// Round is the 1-based execution round.
	Round int `json:"round"`
	// Tool is the tool name as planned.
	Tool tools.Name `json:"tool"`
	// Input is the step input as planned.
	Input string `json:"input"`
	// Reason is the planner's rationale.
	Reason string `json:"reason"`
	// Observation is the tool's observation or a fault tag.
	Observation string `json:"observation"`
	// Elapsed is the wall time spent on the step.
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Result is the outcome of one agent run.
type Result struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`
	// Answer is the synthesized answer.
	Answer string `json:"answer"`
	// Route is the router's classification.
	Route Route `json:"route"`
	// References are the supporting hits passed to answer synthesis.
	References []retrieval.Hit `json:"references"`
	// Traces are all executed steps in order.
	Traces []TraceStep `json:"traces"`
	// RerankerApplied reports whether the last retrieval was reranked.
	RerankerApplied bool `json:"reranker_applied"`
	// RerankerMessage is the last rerank diagnostic.
	RerankerMessage string `json:"reranker_message"`
	// MemorySummary is the session memory digest after the run.
	MemorySummary string `json:"memory_summary"`
	// Rounds is the number of executed rounds.
	Rounds int `json:"rounds"`
	// PlanningCalls is the number of planner invocations.
	PlanningCalls int `json:"planning_calls"`
	// StageTimings maps stage names to elapsed milliseconds.
	StageTimings map[string]float64 `json:"stage_timings_ms"`
}

// Chatter is the chat backend used for routing, planning and answering.
// A nil temperature uses the backend default.
type Chatter interface {
	Chat(ctx context.Context, messages []*schema.Message, temperature *float32) (string, error)
}

// ChatFunc adapts a function to the Chatter interface.
type ChatFunc func(ctx context.Context, messages []*schema.Message, temperature *float32) (string, error)

// Chat calls f.
func (f ChatFunc) Chat(ctx context.Context, messages []*schema.Message, temperature *float32) (string, error) {
	return f(ctx, messages, temperature)
}

// ProgressFunc observes each completed stage. Panics raised by the callback
// are recovered and ignored.
type ProgressFunc func(stage string, elapsedMS float64, detail string)

// AnswerInput is everything answer synthesis sees.
type AnswerInput struct {
	Question     string
	Route        Route
	SystemPrompt string
	References   []retrieval.Hit
	Traces       []TraceStep
	History      []*schema.Message
}

// AnswerFunc replaces the chat-backed answer synthesis.
type AnswerFunc func(ctx context.Context, in AnswerInput) (string, error)
