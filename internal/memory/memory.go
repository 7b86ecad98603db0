// Package memory holds per-session conversation state carried between agent
// turns. Tools never write to a Memory directly; they return a Delta that
// the executor applies after a successful call.
package memory

import (
	"fmt"
	"maps"
	"strings"

	"github.com/54b3r/ragent-go/internal/calc"
	"github.com/54b3r/ragent-go/internal/retrieval"
)

// summaryRefs is the number of references listed by Summarize.
const summaryRefs = 3

// Memory is the state of one conversation session. It is not safe for
// concurrent use; callers serialize turns per session.
type Memory struct {
	TurnCount    int    `json:"turn_count"`
	LastQuestion string `json:"last_question"`
	LastAnswer   string `json:"last_answer"`

	LastRetrievalQuery string          `json:"last_retrieval_query"`
	LastRetrievalText  string          `json:"last_retrieval_text"`
	LastReferences     []retrieval.Hit `json:"last_references"`

	LastCalcExpression string   `json:"last_calc_expression"`
	LastCalcValue      *float64 `json:"last_calc_value,omitempty"`

	// Variables are named numeric values. Names keep their case.
	Variables map[string]float64 `json:"variables"`
	// ToolObservations holds the latest observation per tool name.
	ToolObservations map[string]string `json:"tool_observations"`

	LastRerankerApplied bool   `json:"last_reranker_applied"`
	LastRerankerMessage string `json:"last_reranker_message"`
}

// New returns an empty Memory.
func New() *Memory {
	return &Memory{
		Variables:        make(map[string]float64),
		ToolObservations: make(map[string]string),
	}
}

// Reset clears every field.
func (m *Memory) Reset() {
	*m = *New()
}

// Delta is a requested change to Memory. Nil pointer fields and nil maps
// leave the corresponding field untouched; maps are merged key by key with
// later writes winning.
type Delta struct {
	LastRetrievalQuery  *string
	LastRetrievalText   *string
	LastReferences      []retrieval.Hit
	LastCalcExpression  *string
	LastCalcValue       *float64
	Variables           map[string]float64
	ToolObservations    map[string]string
	LastRerankerApplied *bool
	LastRerankerMessage *string
}

// Apply merges d into m.
func (m *Memory) Apply(d Delta) {
	if m.Variables == nil {
		m.Variables = make(map[string]float64)
	}
	if m.ToolObservations == nil {
		m.ToolObservations = make(map[string]string)
	}
	if d.LastRetrievalQuery != nil {
		m.LastRetrievalQuery = *d.LastRetrievalQuery
	}
	if d.LastRetrievalText != nil {
		m.LastRetrievalText = *d.LastRetrievalText
	}
	if d.LastReferences != nil {
		m.LastReferences = append([]retrieval.Hit(nil), d.LastReferences...)
	}
	if d.LastCalcExpression != nil {
		m.LastCalcExpression = *d.LastCalcExpression
	}
	if d.LastCalcValue != nil {
		v := *d.LastCalcValue
		m.LastCalcValue = &v
	}
	maps.Copy(m.Variables, d.Variables)
	maps.Copy(m.ToolObservations, d.ToolObservations)
	if d.LastRerankerApplied != nil {
		m.LastRerankerApplied = *d.LastRerankerApplied
	}
	if d.LastRerankerMessage != nil {
		m.LastRerankerMessage = *d.LastRerankerMessage
	}
}

// HasContext reports whether memory holds anything a follow-up question
// could build on: references, variables or a previous result.
func (m *Memory) HasContext() bool {
	return len(m.LastReferences) > 0 || len(m.Variables) > 0 || m.LastCalcValue != nil
}

// Summarize renders a one-line digest for prompts, e.g.
//
//	turn_count=2; last_calc=A + B = 320.0; variables=A=200.0, B=120.0; last_refs=r.pdf#p2
func (m *Memory) Summarize() string {
	calcText := "<none>"
	if m.LastCalcExpression != "" && m.LastCalcValue != nil {
		calcText = fmt.Sprintf("%s = %s", m.LastCalcExpression, calc.FormatValue(*m.LastCalcValue))
	}

	refsText := "<none>"
	if len(m.LastReferences) > 0 {
		refs := m.LastReferences[:min(len(m.LastReferences), summaryRefs)]
		parts := make([]string, len(refs))
		for i, r := range refs {
			parts[i] = fmt.Sprintf("%s#p%d", r.Source, r.Page)
		}
		refsText = strings.Join(parts, "; ")
	}

	return fmt.Sprintf("turn_count=%d; last_calc=%s; variables=%s; last_refs=%s",
		m.TurnCount, calcText, calc.FormatVariables(m.Variables), refsText)
}

// Ptr returns a pointer to v. It keeps Delta literals short.
func Ptr[T any](v T) *T { return &v }
