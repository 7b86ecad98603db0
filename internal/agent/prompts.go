package agent

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/retrieval"
	"github.com/54b3r/ragent-go/internal/tools"
)

const routerSystemPrompt = `You are a classifier. Decide whether the user's question is
"smalltalk" (greetings, thanks, chit-chat), "needs_retrieval" (must be answered
from the document knowledge base) or "other" (general question that needs no
documents). Output only the label, nothing else.`

const plannerSystemPromptFmt = `You are a task planner. Break the user's question into tool steps.
Output JSON only, no other text, in exactly this shape:
{"steps":[{"tool":"retrieve|calculate|budget_analyst|finish","input":"...","reason":"..."}]}
Rules:
1) Prefer retrieve whenever facts from documents are needed. Use %s as input to search with the original question.
2) Use calculate for arithmetic; input must be an executable expression such as A + B - C or 12.5*3.
3) Use budget_analyst to rate a stock from yearly budgets and price, usually after retrieve.
4) Use at most %d steps.`

const generalSystemPrompt = `You are a reliable general assistant.
Answer concisely and clearly. If the question needs external material that was
not provided, say that you cannot confirm it.`

const chitchatSystemPrompt = `You are a friendly conversational assistant.
Keep replies short and natural and respond to the user directly.`

const finalSystemPrompt = `You are a careful agentic RAG assistant.
You receive a tool execution trace and retrieved context. Answer the user from
that information only. Do not invent facts; if the information is insufficient,
say so explicitly. Cite key conclusions as [ref:n].`

func routerUserPrompt(question string) string {
	return fmt.Sprintf("Question: %s\n\nOutput the label.", question)
}

func plannerSystemPrompt(maxSteps int) string {
	return fmt.Sprintf(plannerSystemPromptFmt, tools.UseQuestion, maxSteps)
}

// planUserPrompt renders the planning request with memory, recent history
// and, when replanning, the previous attempt.
func planUserPrompt(req PlanRequest, maxSteps int, history []*schema.Message) string {
	memText := "<none>"
	if req.Memory != nil {
		memText = req.Memory.Summarize()
	}

	historyText := "<none>"
	if len(history) > 0 {
		lines := make([]string, len(history))
		for i, m := range history {
			lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
		}
		historyText = strings.Join(lines, "\n")
	}

	feedback := strings.TrimSpace(req.Feedback)
	if feedback == "" {
		feedback = "<none>"
	}

	prevSteps := "<none>"
	if len(req.PreviousSteps) > 0 {
		lines := make([]string, len(req.PreviousSteps))
		for i, s := range req.PreviousSteps {
			lines[i] = fmt.Sprintf("%d. tool=%s input=%s reason=%s", i+1, s.Tool, s.Input, s.Reason)
		}
		prevSteps = strings.Join(lines, "\n")
	}

	prevObs := "<none>"
	var obs []string
	for _, o := range req.PreviousObservations {
		if strings.TrimSpace(o) != "" {
			obs = append(obs, o)
		}
	}
	if len(obs) > 0 {
		prevObs = strings.Join(obs, "\n")
	}

	return fmt.Sprintf("Question: %s\n\n"+
		"Memory summary: %s\n\n"+
		"Recent conversation:\n%s\n\n"+
		"Replan feedback:\n%s\n\n"+
		"Previous plan:\n%s\n\n"+
		"Previous observations:\n%s\n\n"+
		"Output a tool plan of at most %d steps, JSON only. "+
		"If this is a replan, avoid repeating the step order that failed.",
		req.Question, memText, historyText, feedback, prevSteps, prevObs, maxSteps)
}

// answerUserPrompt renders the trace and reference blocks for synthesis.
func answerUserPrompt(question string, traces []TraceStep, refs []retrieval.Hit) string {
	traceText := "<NO_TRACE>"
	if len(traces) > 0 {
		blocks := make([]string, len(traces))
		for i, t := range traces {
			blocks[i] = fmt.Sprintf("[step:%d] tool=%s input=%s\nobs=%s", t.StepNo, t.Tool, t.Input, t.Observation)
		}
		traceText = strings.Join(blocks, "\n\n")
	}

	ctxText := "<NO_CONTEXT>"
	if len(refs) > 0 {
		blocks := make([]string, len(refs))
		for i, r := range refs {
			blocks[i] = fmt.Sprintf("[ref:%d] source=%s page=%d\n%s", i+1, r.Source, r.Page, r.Text)
		}
		ctxText = strings.Join(blocks, "\n\n")
	}

	return fmt.Sprintf("Question: %s\n\n"+
		"=== Tool trace ===\n%s\n=== End of trace ===\n\n"+
		"=== Retrieved context ===\n%s\n=== End of context ===",
		question, traceText, ctxText)
}
