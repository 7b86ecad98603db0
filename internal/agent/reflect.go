package agent

import (
	"strings"

	"github.com/54b3r/ragent-go/internal/tools"
)

// Reflection reasons.
const (
	ReasonEmptyPlan                 = "empty_plan"
	ReasonFinishRequested           = "finish_requested"
	ReasonRegistryError             = "registry_error"
	ReasonToolFailed                = "tool_failed"
	ReasonCalcMissingAfterRetrieval = "calc_missing_variable_after_retrieval"
	ReasonCalcMissingNoRetrieval    = "calc_missing_variable_without_retrieval"
	ReasonRetrievalNoHits           = "retrieval_no_hits"
	ReasonNoReferences              = "no_references"
	ReasonAccepted                  = "accepted"
)

// Observation prefixes recorded by the executor.
const (
	obsToolNotRegistered = "tool_not_registered: "
	obsToolNotFound      = "tool_not_found: "
	obsToolFailed        = "tool_failed: "
	obsNoHits            = "no hits"
	obsCalcFailed        = "calc_failed: "
)

// Step outcomes reported by TraceStep.Outcome.
const (
	OutcomeOK            = "ok"
	OutcomeFinish        = "finish"
	OutcomeNotRegistered = "not_registered"
	OutcomeFailed        = "failed"
	OutcomeNoHits        = "no_hits"
)

// Outcome classifies the step by its observation.
func (t TraceStep) Outcome() string {
	obs := t.Observation
	switch {
	case t.Tool == tools.Finish:
		return OutcomeFinish
	case strings.HasPrefix(obs, obsToolNotRegistered), strings.HasPrefix(obs, obsToolNotFound):
		return OutcomeNotRegistered
	case strings.HasPrefix(obs, obsToolFailed), strings.HasPrefix(obs, obsCalcFailed):
		return OutcomeFailed
	case t.Tool == tools.Retrieve && strings.TrimSpace(obs) == obsNoHits:
		return OutcomeNoHits
	default:
		return OutcomeOK
	}
}

// Decision is the outcome of reflecting on one round.
type Decision struct {
	// Retry requests another planning round.
	Retry bool
	// Reason is a stable diagnostic tag.
	Reason string
	// Feedback is passed verbatim to the next planning call.
	Feedback string
}

// roundOutcome is what reflection sees of a finished round.
type roundOutcome struct {
	route         Route
	skipTools     bool
	steps         []Step
	traces        []TraceStep
	hasRetrieval  bool
	referenceSize int
	memoryContext bool
}

// reflectRule is one predicate to decision entry. Rules are evaluated in
// order and the first match wins.
type reflectRule struct {
	match    func(o roundOutcome) bool
	decision Decision
}

var reflectRules = []reflectRule{
	{
		match: func(o roundOutcome) bool {
			return len(o.steps) == 0 &&
				(o.route == RouteNeedsRetrieval || (o.route == RouteUnknown && !o.skipTools))
		},
		decision: Decision{
			Retry:    true,
			Reason:   ReasonEmptyPlan,
			Feedback: "The previous plan was empty but the question needs knowledge from the documents. Include at least one retrieve step.",
		},
	},
	{
		match: func(o roundOutcome) bool {
			return anyTrace(o.traces, func(t TraceStep) bool { return t.Tool == tools.Finish })
		},
		decision: Decision{Reason: ReasonFinishRequested},
	},
	{
		match: func(o roundOutcome) bool {
			return anyTrace(o.traces, func(t TraceStep) bool {
				return strings.HasPrefix(t.Observation, obsToolNotRegistered) ||
					strings.HasPrefix(t.Observation, obsToolNotFound)
			})
		},
		decision: Decision{Reason: ReasonRegistryError},
	},
	{
		match: func(o roundOutcome) bool {
			return anyTrace(o.traces, func(t TraceStep) bool { return strings.HasPrefix(t.Observation, obsToolFailed) })
		},
		decision: Decision{
			Retry:    true,
			Reason:   ReasonToolFailed,
			Feedback: "A tool failed at runtime. Replan and avoid repeating the same failing step order.",
		},
	},
	{
		match: func(o roundOutcome) bool { return o.hasRetrieval && calcMissing(o.traces) },
		decision: Decision{
			Retry:    true,
			Reason:   ReasonCalcMissingAfterRetrieval,
			Feedback: "The calculation is missing variables even after retrieval. Retrieve again with a query targeting chunks that contain explicit NAME=value assignments, then calculate.",
		},
	},
	{
		match: func(o roundOutcome) bool { return !o.hasRetrieval && calcMissing(o.traces) },
		decision: Decision{
			Retry:    true,
			Reason:   ReasonCalcMissingNoRetrieval,
			Feedback: "The calculation is missing variables. Retrieve the variable values first, then calculate.",
		},
	},
	{
		match: func(o roundOutcome) bool {
			return anyTrace(o.traces, func(t TraceStep) bool {
				return t.Tool == tools.Retrieve && t.Observation == obsNoHits
			})
		},
		decision: Decision{
			Retry:    true,
			Reason:   ReasonRetrievalNoHits,
			Feedback: "Retrieval returned no hits. Retry with a query closer to the original question.",
		},
	},
	{
		match: func(o roundOutcome) bool {
			return o.route == RouteNeedsRetrieval && o.referenceSize == 0 && !o.memoryContext
		},
		decision: Decision{
			Retry:    true,
			Reason:   ReasonNoReferences,
			Feedback: "No usable references were collected. Add a retrieve step with a more specific query.",
		},
	},
}

// reflect classifies a round outcome.
func reflect(o roundOutcome) Decision {
	for _, r := range reflectRules {
		if r.match(o) {
			return r.decision
		}
	}
	return Decision{Reason: ReasonAccepted}
}

func anyTrace(traces []TraceStep, pred func(TraceStep) bool) bool {
	for _, t := range traces {
		if pred(t) {
			return true
		}
	}
	return false
}

func calcMissing(traces []TraceStep) bool {
	return anyTrace(traces, func(t TraceStep) bool {
		return t.Tool == tools.Calculate && tools.IsCalcMissingVariable(t.Observation)
	})
}
