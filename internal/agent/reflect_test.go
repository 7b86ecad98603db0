package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/54b3r/ragent-go/internal/tools"
)

func trace(tool tools.Name, obs string) TraceStep {
	return TraceStep{Tool: tool, Observation: obs}
}

func TestReflect(t *testing.T) {
	t.Parallel()

	retrieveStep := []Step{{Tool: tools.Retrieve}}
	cases := []struct {
		name    string
		outcome roundOutcome
		reason  string
		retry   bool
	}{
		{
			name:    "empty plan on knowledge route",
			outcome: roundOutcome{route: RouteNeedsRetrieval},
			reason:  ReasonEmptyPlan,
			retry:   true,
		},
		{
			name:    "empty plan on unknown route that needs tools",
			outcome: roundOutcome{route: RouteUnknown},
			reason:  ReasonEmptyPlan,
			retry:   true,
		},
		{
			name:    "empty plan on unknown route that skips tools",
			outcome: roundOutcome{route: RouteUnknown, skipTools: true},
			reason:  ReasonAccepted,
		},
		{
			name:    "empty plan on smalltalk",
			outcome: roundOutcome{route: RouteSmalltalk},
			reason:  ReasonAccepted,
		},
		{
			name: "finish requested",
			outcome: roundOutcome{
				route:  RouteNeedsRetrieval,
				steps:  []Step{{Tool: tools.Finish}},
				traces: []TraceStep{trace(tools.Finish, "finish")},
			},
			reason: ReasonFinishRequested,
		},
		{
			name: "registry error stops",
			outcome: roundOutcome{
				route:  RouteNeedsRetrieval,
				steps:  retrieveStep,
				traces: []TraceStep{trace(tools.BudgetAnalyst, "tool_not_registered: budget_analyst"), trace(tools.Retrieve, "tool_failed: boom")},
			},
			reason: ReasonRegistryError,
		},
		{
			name: "tool failure retries",
			outcome: roundOutcome{
				route:  RouteNeedsRetrieval,
				steps:  retrieveStep,
				traces: []TraceStep{trace(tools.Retrieve, "tool_failed: timeout")},
			},
			reason: ReasonToolFailed,
			retry:  true,
		},
		{
			name: "missing variable after retrieval",
			outcome: roundOutcome{
				route:        RouteNeedsRetrieval,
				steps:        retrieveStep,
				traces:       []TraceStep{trace(tools.Retrieve, "[1] a.md"), trace(tools.Calculate, "calc_failed: unknown variable: X")},
				hasRetrieval: true,
			},
			reason: ReasonCalcMissingAfterRetrieval,
			retry:  true,
		},
		{
			name: "missing variable without retrieval",
			outcome: roundOutcome{
				route:  RouteNeedsRetrieval,
				steps:  []Step{{Tool: tools.Calculate}},
				traces: []TraceStep{trace(tools.Calculate, "calc_failed: unknown variable: X")},
			},
			reason: ReasonCalcMissingNoRetrieval,
			retry:  true,
		},
		{
			name: "other calc failure is accepted",
			outcome: roundOutcome{
				route:         RouteNeedsRetrieval,
				steps:         []Step{{Tool: tools.Calculate}},
				traces:        []TraceStep{trace(tools.Calculate, "calc_failed: division by zero")},
				memoryContext: true,
			},
			reason: ReasonAccepted,
		},
		{
			name: "retrieval without hits",
			outcome: roundOutcome{
				route:        RouteNeedsRetrieval,
				steps:        retrieveStep,
				traces:       []TraceStep{trace(tools.Retrieve, "no hits")},
				hasRetrieval: true,
			},
			reason: ReasonRetrievalNoHits,
			retry:  true,
		},
		{
			name: "knowledge route without references",
			outcome: roundOutcome{
				route:  RouteNeedsRetrieval,
				steps:  []Step{{Tool: tools.BudgetAnalyst}},
				traces: []TraceStep{trace(tools.BudgetAnalyst, "budget_analyst: rating=unrated")},
			},
			reason: ReasonNoReferences,
			retry:  true,
		},
		{
			name: "memory context satisfies knowledge route",
			outcome: roundOutcome{
				route:         RouteNeedsRetrieval,
				steps:         []Step{{Tool: tools.Calculate}},
				traces:        []TraceStep{trace(tools.Calculate, "expression=LAST_RESULT + 10; value=330.0")},
				memoryContext: true,
			},
			reason: ReasonAccepted,
		},
		{
			name: "accepted with references",
			outcome: roundOutcome{
				route:         RouteNeedsRetrieval,
				steps:         retrieveStep,
				traces:        []TraceStep{trace(tools.Retrieve, "[1] a.md page=1")},
				hasRetrieval:  true,
				referenceSize: 1,
			},
			reason: ReasonAccepted,
		},
	}

	for _, tc := range cases {
		d := reflect(tc.outcome)
		assert.Equal(t, tc.reason, d.Reason, tc.name)
		assert.Equal(t, tc.retry, d.Retry, tc.name)
		if tc.retry {
			assert.NotEmpty(t, d.Feedback, tc.name)
		}
	}
}

func TestTraceStepOutcome(t *testing.T) {
	t.Parallel()

	cases := []struct {
		step TraceStep
		want string
	}{
		{TraceStep{Tool: tools.Retrieve, Observation: "[1] finance.md p3 ..."}, OutcomeOK},
		{TraceStep{Tool: tools.Retrieve, Observation: "no hits"}, OutcomeNoHits},
		{TraceStep{Tool: tools.Retrieve, Observation: "tool_failed: qdrant: unavailable"}, OutcomeFailed},
		{TraceStep{Tool: tools.Calculate, Observation: "calc_failed: unknown variable: X"}, OutcomeFailed},
		{TraceStep{Tool: tools.Calculate, Observation: "A + B = 3.0"}, OutcomeOK},
		{TraceStep{Tool: "web_search", Observation: "tool_not_registered: web_search"}, OutcomeNotRegistered},
		{TraceStep{Tool: tools.Finish, Observation: "finish"}, OutcomeFinish},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.step.Outcome(), "observation %q", tc.step.Observation)
	}
}
