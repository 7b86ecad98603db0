package tools

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/calc"
	"github.com/54b3r/ragent-go/internal/memory"
)

// CalculateTool evaluates arithmetic over named variables.
type CalculateTool struct {
	// extractor pulls NAME = value assignments out of retrieval text.
	extractor calc.Extractor
}

// NewCalculateTool returns a CalculateTool. A nil extractor uses
// calc.AssignmentExtractor.
func NewCalculateTool(extractor calc.Extractor) *CalculateTool {
	if extractor == nil {
		extractor = calc.AssignmentExtractor{}
	}
	return &CalculateTool{extractor: extractor}
}

// Name returns the tool name.
func (t *CalculateTool) Name() Name { return Calculate }

// Description returns the LLM-facing description.
func (t *CalculateTool) Description() string {
	return "Evaluates an arithmetic expression (+ - * / // % **) over numbers and UPPER_CASE variables " +
		"taken from memory, LAST_RESULT, or NAME = value assignments in retrieved text."
}

// Info returns the eino tool metadata.
func (t *CalculateTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return info(t, "Arithmetic expression, e.g. Q1_PROFIT + Q2_PROFIT - RD_COST."), nil
}

// knownVariables merges memory variables, LAST_RESULT and assignments
// extracted from the latest retrieval text, later sources winning.
func (t *CalculateTool) knownVariables(tc *Context) (known, extracted map[string]float64) {
	known = make(map[string]float64)
	if tc.Memory != nil {
		maps.Copy(known, tc.Memory.Variables)
		if tc.Memory.LastCalcValue != nil {
			known[calc.LastResult] = *tc.Memory.LastCalcValue
		}
	}
	extracted = t.extractor.Extract(tc.latestRetrievalText())
	delete(extracted, calc.LastResult)
	maps.Copy(known, extracted)
	return known, extracted
}

// Run evaluates input. Evaluation faults are reported as a calc_failed
// observation, not an error.
func (t *CalculateTool) Run(_ context.Context, input string, tc *Context) (*Output, error) {
	expression := calc.Normalize(input)
	if expression == "" {
		return &Output{Observation: "calc_failed: " + calc.ErrEmpty.Error()}, nil
	}

	known, extracted := t.knownVariables(tc)
	res, err := calc.Evaluate(expression, known)
	if err != nil {
		out := &Output{Observation: "calc_failed: " + err.Error()}
		if errors.Is(err, calc.ErrUnknownVariable) {
			for _, name := range calc.Variables(expression) {
				if _, ok := known[name]; !ok {
					out.Metadata.MissingVariables = append(out.Metadata.MissingVariables, name)
				}
			}
		}
		return out, nil
	}

	observation := fmt.Sprintf("expression=%s; value=%s; vars=%s",
		res.Expression, calc.FormatValue(res.Value), calc.FormatVariables(res.VariablesUsed))

	remember := make(map[string]float64, len(extracted)+len(res.VariablesUsed))
	maps.Copy(remember, extracted)
	maps.Copy(remember, res.VariablesUsed)
	delete(remember, calc.LastResult)

	return &Output{
		Observation: observation,
		MemoryDelta: memory.Delta{
			LastCalcExpression: memory.Ptr(res.Expression),
			LastCalcValue:      memory.Ptr(res.Value),
			Variables:          remember,
			ToolObservations:   map[string]string{string(Calculate): observation},
		},
	}, nil
}

// IsCalcMissingVariable reports whether observation is a calculation failure
// caused by an unknown variable.
func IsCalcMissingVariable(observation string) bool {
	return strings.HasPrefix(observation, "calc_failed: ") &&
		strings.Contains(observation, calc.ErrUnknownVariable.Error())
}
