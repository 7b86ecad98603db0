package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/retrieval"
	"github.com/54b3r/ragent-go/internal/tools"
)

// scriptedChat answers router, planner and answer calls from fixed replies.
type scriptedChat struct {
	mu sync.Mutex

	route    string
	routeErr error

	// plans are returned in order; the last one repeats.
	plans     []string
	planCalls int

	answer     string
	answerErr  error
	answerMsgs []*schema.Message
}

func (c *scriptedChat) Chat(_ context.Context, msgs []*schema.Message, _ *float32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case msgs[0].Content == routerSystemPrompt:
		return c.route, c.routeErr
	case strings.HasPrefix(msgs[0].Content, "You are a task planner"):
		c.planCalls++
		if len(c.plans) == 0 {
			return "", errors.New("no plan scripted")
		}
		return c.plans[min(c.planCalls, len(c.plans))-1], nil
	default:
		c.answerMsgs = msgs
		if c.answerErr != nil {
			return "", c.answerErr
		}
		if c.answer == "" {
			return "answer", nil
		}
		return c.answer, nil
	}
}

// stubRetriever returns the same hits for every query.
type stubRetriever struct {
	mu      sync.Mutex
	hits    []retrieval.Hit
	queries []string
}

func (r *stubRetriever) Retrieve(_ context.Context, query string, _ retrieval.Params) (*retrieval.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	return &retrieval.Result{
		FinalHits:       append([]retrieval.Hit(nil), r.hits...),
		RerankerMessage: "reranker not configured",
	}, nil
}

func (r *stubRetriever) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

// panicTool panics on every call.
type panicTool struct{ name tools.Name }

func (p panicTool) Name() tools.Name    { return p.name }
func (p panicTool) Description() string { return "panics" }
func (p panicTool) Run(context.Context, string, *tools.Context) (*tools.Output, error) {
	panic("index out of range")
}

func newTestAgent(t *testing.T, chat Chatter, r retrieval.Retriever, registry *tools.Registry) *Agent {
	t.Helper()
	if registry == nil {
		registry = tools.NewRegistry(tools.NewRetrieveTool(), tools.NewCalculateTool(nil), tools.NewBudgetAnalystTool())
	}
	a, err := New(&Config{Chat: chat, Registry: registry, Retriever: r})
	require.NoError(t, err)
	return a
}

var profitHits = []retrieval.Hit{{
	Text:        "Quarterly figures: Q1_PROFIT = 137.5, Q2_PROFIT = 262.5, RD_COST = 80",
	Source:      "finance.md",
	Page:        3,
	VectorScore: 0.9,
}}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
	_, err = New(&Config{Chat: &scriptedChat{}})
	require.Error(t, err)
	_, err = New(&Config{Registry: tools.NewRegistry()})
	require.Error(t, err)
}

func TestRun_SymbolicThenFollowUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	chat := &scriptedChat{route: "needs_retrieval"}
	retr := &stubRetriever{hits: profitHits}
	a := newTestAgent(t, chat, retr, nil)
	mem := memory.New()

	res, err := a.Run(ctx, mem, "Q1_PROFIT + Q2_PROFIT - RD_COST", nil)
	require.NoError(t, err)
	require.Len(t, res.Traces, 2)
	assert.Equal(t, tools.Retrieve, res.Traces[0].Tool)
	assert.Equal(t, tools.Calculate, res.Traces[1].Tool)
	assert.Contains(t, res.Traces[1].Observation, "value=320.0")
	assert.Equal(t, 1, res.PlanningCalls)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, RouteNeedsRetrieval, res.Route)
	require.Len(t, res.References, 1)
	assert.Equal(t, "finance.md", res.References[0].Source)
	assert.Equal(t, "reranker not configured", res.RerankerMessage)
	assert.Zero(t, chat.planCalls, "heuristic plan needs no planner call")
	assert.Equal(t, 1, retr.calls())
	require.NotNil(t, mem.LastCalcValue)
	assert.InDelta(t, 320.0, *mem.LastCalcValue, 1e-9)

	res, err = a.Run(ctx, mem, "add 10 to that", nil)
	require.NoError(t, err)
	require.Len(t, res.Traces, 1)
	assert.Equal(t, tools.Calculate, res.Traces[0].Tool)
	assert.Contains(t, res.Traces[0].Observation, "value=330.0")
	assert.Equal(t, 1, retr.calls(), "follow-up must not retrieve")
	assert.Len(t, res.References, 1, "previous references are reused")
	assert.Equal(t, 2, mem.TurnCount)
	assert.Equal(t, "add 10 to that", mem.LastQuestion)
	assert.Contains(t, res.MemorySummary, "last_calc=LAST_RESULT + 10 = 330.0")
}

func TestRun_ReplanIsBounded(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{
		route: "needs_retrieval",
		plans: []string{`{"steps":[{"tool":"retrieve","input":"margins"}]}`},
	}
	retr := &stubRetriever{}
	a := newTestAgent(t, chat, retr, nil)

	res, err := a.Run(context.Background(), memory.New(), "what does the report say about margins", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PlanningCalls)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 2, chat.planCalls)
	require.Len(t, res.Traces, 2)
	assert.Equal(t, 2, res.Traces[1].Round)
	assert.Equal(t, 2, res.Traces[1].StepNo)
	assert.Equal(t, "no hits", res.Traces[1].Observation)
	assert.Contains(t, res.StageTimings, "reflect.1")
	assert.NotContains(t, res.StageTimings, "reflect.2", "final round is not reflected")
}

func TestRun_NoReplanWhenDisabled(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{
		route: "needs_retrieval",
		plans: []string{`{"steps":[{"tool":"retrieve","input":"margins"}]}`},
	}
	a, err := New(&Config{
		Chat:             chat,
		Registry:         tools.NewRegistry(tools.NewRetrieveTool()),
		Retriever:        &stubRetriever{},
		MaxReplanRetries: -1,
	})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), memory.New(), "what does the report say about margins", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PlanningCalls)
}

func TestRun_ToolPanicLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{route: "needs_retrieval"}
	registry := tools.NewRegistry(panicTool{name: tools.Calculate})
	a := newTestAgent(t, chat, &stubRetriever{}, registry)

	mem := memory.New()
	mem.Variables["A_VAL"] = 1
	prior := []retrieval.Hit{{Text: "A_VAL = 1", Source: "a.md", Page: 1}}
	mem.LastReferences = prior

	res, err := a.Run(context.Background(), mem, "A_VAL + B_VAL", nil)
	require.NoError(t, err)
	require.Len(t, res.Traces, 2)
	assert.Equal(t, "tool_not_registered: retrieve", res.Traces[0].Observation)
	assert.True(t, strings.HasPrefix(res.Traces[1].Observation, "tool_failed: panic: index out of range"), res.Traces[1].Observation)
	assert.Equal(t, map[string]float64{"A_VAL": 1}, mem.Variables)
	assert.Equal(t, prior, mem.LastReferences)
	assert.Equal(t, 1, res.PlanningCalls, "registry errors are not retried")
}

func TestRun_ReferencesAreDeduplicated(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 130)
	chat := &scriptedChat{
		route: "needs_retrieval",
		plans: []string{`{"steps":[{"tool":"retrieve","input":"first"},{"tool":"retrieve","input":"second"}]}`},
	}
	retr := &stubRetriever{hits: []retrieval.Hit{
		{Text: long + "a", Source: "a.md", Page: 1},
		{Text: long + "b", Source: "a.md", Page: 1},
		{Text: long + "a", Source: "a.md", Page: 2},
	}}
	a := newTestAgent(t, chat, retr, nil)

	res, err := a.Run(context.Background(), memory.New(), "what does the report say about x", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, retr.calls())
	require.Len(t, res.References, 2)
	assert.Equal(t, 1, res.References[0].Page)
	assert.Equal(t, 2, res.References[1].Page)
}

func TestRun_FinishStopsRound(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{
		route: "needs_retrieval",
		plans: []string{`{"steps":[{"tool":"retrieve","input":"a"},{"tool":"finish"},{"tool":"retrieve","input":"b"}]}`},
	}
	retr := &stubRetriever{}
	a := newTestAgent(t, chat, retr, nil)

	res, err := a.Run(context.Background(), memory.New(), "what does the report say about a", nil)
	require.NoError(t, err)
	require.Len(t, res.Traces, 2)
	assert.Equal(t, tools.Finish, res.Traces[1].Tool)
	assert.Equal(t, 1, retr.calls())
	assert.Equal(t, 1, res.PlanningCalls)
}

func TestRun_SmalltalkSkipsTools(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{routeErr: errors.New("router offline"), answer: "Hi there!"}
	a := newTestAgent(t, chat, &stubRetriever{}, nil)

	res, err := a.Run(context.Background(), memory.New(), "hello!", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteSmalltalk, res.Route)
	assert.Empty(t, res.Traces)
	assert.Equal(t, "Hi there!", res.Answer)
	assert.Equal(t, "no retrieval", res.RerankerMessage)
	require.NotEmpty(t, chat.answerMsgs)
	assert.Equal(t, chitchatSystemPrompt, chat.answerMsgs[0].Content)
	assert.Equal(t, "hello!", chat.answerMsgs[len(chat.answerMsgs)-1].Content)
}

func TestRun_GroundedAnswerPrompt(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{route: "needs_retrieval"}
	a := newTestAgent(t, chat, &stubRetriever{hits: profitHits}, nil)

	history := []*schema.Message{schema.UserMessage("earlier question"), schema.AssistantMessage("earlier answer", nil)}
	_, err := a.Run(context.Background(), memory.New(), "Q1_PROFIT + Q2_PROFIT - RD_COST", history)
	require.NoError(t, err)

	msgs := chat.answerMsgs
	require.Len(t, msgs, 4)
	assert.Equal(t, finalSystemPrompt, msgs[0].Content)
	assert.Equal(t, "earlier question", msgs[1].Content)
	user := msgs[3].Content
	assert.Contains(t, user, "[step:1] tool=retrieve")
	assert.Contains(t, user, "[step:2] tool=calculate")
	assert.Contains(t, user, "[ref:1] source=finance.md page=3")
}

func TestRun_AnswerFailurePropagates(t *testing.T) {
	t.Parallel()
	chat := &scriptedChat{route: "smalltalk", answerErr: errors.New("quota exceeded")}
	a := newTestAgent(t, chat, &stubRetriever{}, nil)
	mem := memory.New()

	_, err := a.Run(context.Background(), mem, "hi", nil)
	require.ErrorContains(t, err, "quota exceeded")
	assert.Zero(t, mem.TurnCount)
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAgent(t, &scriptedChat{route: "needs_retrieval"}, &stubRetriever{}, nil)

	_, err := a.Run(ctx, memory.New(), "what does the report say", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_AnswerFuncAndProgress(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		stages []string
	)
	a, err := New(&Config{
		Registry:  tools.NewRegistry(tools.NewRetrieveTool(), tools.NewCalculateTool(nil)),
		Retriever: &stubRetriever{hits: profitHits},
		Answer: func(_ context.Context, in AnswerInput) (string, error) {
			return "refs=" + string(rune('0'+len(in.References))), nil
		},
		Progress: func(stage string, _ float64, _ string) {
			mu.Lock()
			stages = append(stages, stage)
			mu.Unlock()
			panic("progress sink broken")
		},
	})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), memory.New(), "Q1_PROFIT + Q2_PROFIT - RD_COST", nil)
	require.NoError(t, err)
	assert.Equal(t, "refs=1", res.Answer)
	assert.Equal(t, RouteUnknown, res.Route, "no chat backend means no classification")
	assert.Equal(t, []string{"route", "plan.1", "tool.1.1.retrieve", "tool.1.2.calculate", "reflect.1", "answer"}, stages)
	for _, s := range stages {
		assert.Contains(t, res.StageTimings, s)
	}
	assert.NotEmpty(t, res.RunID)
}
