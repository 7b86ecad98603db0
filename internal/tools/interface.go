// Package tools defines the Tool contract the agent executor invokes and the
// built-in tools: retrieve, calculate and budget_analyst. Tools never mutate
// Memory; they describe the change they want in Output.MemoryDelta and the
// executor applies it only when the call succeeds.
package tools

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/retrieval"
)

// Name identifies a tool. The set of names a plan may use is closed.
type Name string

// Known tool names. Finish is a pseudo-tool that ends a round.
const (
	Retrieve      Name = "retrieve"
	Calculate     Name = "calculate"
	BudgetAnalyst Name = "budget_analyst"
	Finish        Name = "finish"
)

// ParseName maps s to a known Name, case-insensitively.
func ParseName(s string) (Name, bool) {
	switch n := Name(strings.ToLower(strings.TrimSpace(s))); n {
	case Retrieve, Calculate, BudgetAnalyst, Finish:
		return n, true
	default:
		return "", false
	}
}

// UseQuestion is the step input meaning "use the original question".
const UseQuestion = "<question>"

// legacyUseQuestion is the Chinese placeholder some planners emit.
const legacyUseQuestion = "用户问题"

// IsQuestionPlaceholder reports whether input asks for the original question.
func IsQuestionPlaceholder(input string) bool {
	s := strings.TrimSpace(input)
	return s == "" || s == UseQuestion || s == legacyUseQuestion
}

// Tool is the contract every agent tool satisfies. A returned error is
// recorded as a tool failure and leaves Memory untouched; user-input faults
// are reported in the observation instead.
type Tool interface {
	// Name returns the unique tool name.
	Name() Name

	// Description returns a one-line LLM-facing description.
	Description() string

	// Run executes the tool for one planned step.
	Run(ctx context.Context, input string, tc *Context) (*Output, error)
}

// Scratch is round-scoped state shared by steps of the same run. The
// executor updates it from tool metadata; tools read it.
type Scratch struct {
	// RetrievalText is the text of the latest retrieval in this run.
	RetrievalText string

	// HasRetrieval is true once a retrieve step succeeded in this run.
	HasRetrieval bool
}

// Context is the execution context passed to every tool call.
type Context struct {
	// Question is the user's original question.
	Question string

	// History is the conversation so far, oldest first.
	History []*schema.Message

	// Memory is the session memory. Tools must treat it as read-only.
	Memory *memory.Memory

	// Scratch is the per-run scratch state.
	Scratch *Scratch

	// Retriever is the retrieval backend used by the retrieve tool.
	Retriever retrieval.Retriever

	// Params are the active retrieval widths and fusion weights.
	Params retrieval.Params
}

// latestRetrievalText returns this run's retrieval text, falling back to the
// last retrieval remembered from a previous turn.
func (tc *Context) latestRetrievalText() string {
	if tc.Scratch != nil && tc.Scratch.RetrievalText != "" {
		return tc.Scratch.RetrievalText
	}
	if tc.Memory != nil {
		return tc.Memory.LastRetrievalText
	}
	return ""
}

// RetrievalMeta describes a retrieval performed by a tool.
type RetrievalMeta struct {
	// Text is the concatenated text of the final hits.
	Text string
	// RerankerApplied reports whether the rerank service ordered the hits.
	RerankerApplied bool
	// RerankerMessage is the rerank diagnostic.
	RerankerMessage string
}

// BudgetMeta carries the budget analyst's structured verdict.
type BudgetMeta struct {
	Rating          string
	Score           int
	GrowthPct       *float64
	StockPrice      *float64
	BudgetsObserved int
}

// Metadata carries typed side signals from a tool call.
type Metadata struct {
	// Retrieval is set by retrieval-like tools.
	Retrieval *RetrievalMeta
	// MissingVariables lists unknown names when a calculation failed.
	MissingVariables []string
	// Budget is set by the budget analyst.
	Budget *BudgetMeta
}

// Output is the result of one tool call.
type Output struct {
	// Observation is the human-readable result fed back to the planner.
	Observation string
	// References are the hits produced by retrieval-like tools.
	References []retrieval.Hit
	// MemoryDelta is the requested Memory change.
	MemoryDelta memory.Delta
	// Metadata carries typed side signals.
	Metadata Metadata
}

// info builds the eino tool metadata shared by all built-in tools: a single
// free-form string input.
func info(t Tool, inputDesc string) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(t.Name()),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"input": {
				Type:     schema.String,
				Desc:     inputDesc,
				Required: true,
			},
		}),
	}
}
