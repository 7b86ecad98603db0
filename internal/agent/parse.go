package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/54b3r/ragent-go/internal/tools"
)

// errNoPlanJSON is returned when planner output holds no JSON object.
var errNoPlanJSON = errors.New("no JSON object in planner output")

// extractPlanJSON pulls the JSON object out of raw planner output. It
// tolerates markdown code fences and prose around the object.
func extractPlanJSON(output string) (string, error) {
	s := strings.TrimSpace(output)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		return s, nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", errNoPlanJSON
	}
	s = s[start : end+1]
	if !gjson.Valid(s) {
		return "", errNoPlanJSON
	}
	return s, nil
}

// parsePlanOutput converts raw planner output into steps. Unknown tools and
// calculate steps without input are dropped; retrieval-like steps without
// input fall back to the original question.
func parsePlanOutput(output string) ([]Step, error) {
	raw, err := extractPlanJSON(output)
	if err != nil {
		return nil, fmt.Errorf("agent::parsePlanOutput: %w", err)
	}

	stepsVal := gjson.Get(raw, "steps")
	if !stepsVal.IsArray() {
		return nil, fmt.Errorf("agent::parsePlanOutput: missing steps array")
	}

	var steps []Step
	for _, item := range stepsVal.Array() {
		if !item.IsObject() {
			continue
		}
		name, ok := tools.ParseName(item.Get("tool").String())
		if !ok {
			continue
		}
		input := strings.TrimSpace(item.Get("input").String())
		if input == "" {
			switch name {
			case tools.Calculate:
				continue
			case tools.Retrieve, tools.BudgetAnalyst:
				input = tools.UseQuestion
			}
		}
		steps = append(steps, Step{
			Tool:   name,
			Input:  input,
			Reason: strings.TrimSpace(item.Get("reason").String()),
		})
	}
	return steps, nil
}
