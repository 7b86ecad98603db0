// Package agent implements the question-answering engine: a router that
// classifies the question, a planner that turns it into tool steps, and an
// executor that runs those steps against the tool registry, reflects on each
// round and replans a bounded number of times before synthesizing a grounded
// answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/54b3r/ragent-go/internal/budget"
	"github.com/54b3r/ragent-go/internal/logging"
	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/retrieval"
	"github.com/54b3r/ragent-go/internal/tools"
)

const (
	// DefaultMaxReplanRetries is the number of replanning rounds after the first.
	DefaultMaxReplanRetries = 1
	// DefaultMaxTraces caps the trace entries shown to answer synthesis.
	DefaultMaxTraces = 12
	// DefaultMaxReferences caps the references shown to answer synthesis.
	DefaultMaxReferences = 8

	// refKeyPrefix is the number of leading text characters used to
	// de-duplicate references.
	refKeyPrefix = 120

	noRetrievalMessage = "no retrieval"
)

// Config holds the dependencies required to construct an Agent.
type Config struct {
	// Chat is the chat backend for routing, planning and answering. It is
	// required unless Answer is set and routing and planning may fall back
	// to local rules.
	Chat Chatter

	// Registry holds the callable tools.
	Registry *tools.Registry

	// Retriever is passed to tools through tools.Context. May be nil when
	// the retrieve tool carries its own retrieval function.
	Retriever retrieval.Retriever

	// Params are the retrieval widths and fusion weights. Zero values use
	// retrieval.DefaultParams.
	Params retrieval.Params

	// Heuristics overrides the planner's rule-based fast paths. Nil uses
	// DefaultHeuristics.
	Heuristics Heuristics

	// MaxSteps caps the steps per plan. Defaults to DefaultMaxSteps if zero.
	MaxSteps int

	// MaxReplanRetries bounds replanning. Defaults to DefaultMaxReplanRetries
	// if zero; a negative value disables replanning.
	MaxReplanRetries int

	// MaxTraces caps the trace entries in the answer prompt. The most recent
	// entries are kept. Defaults to DefaultMaxTraces if zero.
	MaxTraces int

	// MaxReferences caps the references in the answer prompt. The first
	// entries are kept. Defaults to DefaultMaxReferences if zero.
	MaxReferences int

	// MaxContextTokens is the estimated token budget for the answer prompt.
	// History is trimmed oldest-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// AnswerTemperature is passed to the chat backend for answer synthesis.
	// Nil uses the backend default.
	AnswerTemperature *float32

	// Answer optionally replaces the chat-backed answer synthesis.
	Answer AnswerFunc

	// Progress is optionally notified after every stage.
	Progress ProgressFunc
}

// Agent runs questions through route, plan, execute, reflect and answer.
// An Agent is safe for concurrent use provided each run owns its Memory.
type Agent struct {
	chat              Chatter
	router            *Router
	planner           *Planner
	registry          *tools.Registry
	retriever         retrieval.Retriever
	params            retrieval.Params
	maxRetries        int
	maxTraces         int
	maxReferences     int
	maxContextTokens  int
	answerTemperature *float32
	answer            AnswerFunc
	progress          ProgressFunc
}

// New constructs an Agent from cfg.
func New(cfg *Config) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent: config must not be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent: Registry must not be nil")
	}
	if cfg.Chat == nil && cfg.Answer == nil {
		return nil, fmt.Errorf("agent: Chat must not be nil")
	}

	params := cfg.Params
	if params.TopK <= 0 {
		params = retrieval.DefaultParams()
	}

	retries := cfg.MaxReplanRetries
	switch {
	case retries == 0:
		retries = DefaultMaxReplanRetries
	case retries < 0:
		retries = 0
	}

	maxTraces := cfg.MaxTraces
	if maxTraces <= 0 {
		maxTraces = DefaultMaxTraces
	}
	maxRefs := cfg.MaxReferences
	if maxRefs <= 0 {
		maxRefs = DefaultMaxReferences
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	planner := NewPlanner(cfg.Chat, cfg.MaxSteps)
	if cfg.Heuristics != nil {
		planner.WithHeuristics(cfg.Heuristics)
	}

	return &Agent{
		chat:              cfg.Chat,
		router:            NewRouter(cfg.Chat),
		planner:           planner,
		registry:          cfg.Registry,
		retriever:         cfg.Retriever,
		params:            params,
		maxRetries:        retries,
		maxTraces:         maxTraces,
		maxReferences:     maxRefs,
		maxContextTokens:  maxCtx,
		answerTemperature: cfg.AnswerTemperature,
		answer:            cfg.Answer,
		progress:          cfg.Progress,
	}, nil
}

// refKey identifies a reference for de-duplication.
type refKey struct {
	source string
	page   int
	prefix string
}

func keyOf(h retrieval.Hit) refKey {
	r := []rune(h.Text)
	if len(r) > refKeyPrefix {
		r = r[:refKeyPrefix]
	}
	return refKey{source: h.Source, page: h.Page, prefix: string(r)}
}

// run is the mutable state of one Agent.Run call.
type run struct {
	a        *Agent
	mem      *memory.Memory
	question string
	history  []*schema.Message
	res      *Result
	scratch  *tools.Scratch

	refs []retrieval.Hit
	seen map[refKey]struct{}

	rerankApplied bool
	rerankMessage string
}

// Run answers question using mem as session memory and history as the prior
// conversation, oldest first. Tool faults are recorded in the trace and never
// returned; only a failed answer synthesis or a cancelled context is an
// error. mem is updated in place.
func (a *Agent) Run(ctx context.Context, mem *memory.Memory, question string, history []*schema.Message) (*Result, error) {
	if mem == nil {
		mem = memory.New()
	}

	runID := uuid.NewString()
	log := logging.FromContext(ctx).With(slog.String("run_id", runID))
	ctx = logging.WithLogger(ctx, log)

	r := &run{
		a:        a,
		mem:      mem,
		question: question,
		history:  history,
		res: &Result{
			RunID:        runID,
			StageTimings: make(map[string]float64),
		},
		scratch:       &tools.Scratch{},
		seen:          make(map[refKey]struct{}),
		rerankApplied: mem.LastRerankerApplied,
		rerankMessage: mem.LastRerankerMessage,
	}
	if r.rerankMessage == "" {
		r.rerankMessage = noRetrievalMessage
	}

	start := time.Now()
	route := a.router.Route(ctx, question)
	r.res.Route = route
	r.stage("route", start, string(route))

	if err := r.loop(ctx); err != nil {
		return nil, err
	}
	if err := r.synthesize(ctx); err != nil {
		return nil, err
	}

	log.Info("agent run complete",
		slog.String("route", string(route)),
		slog.Int("rounds", r.res.Rounds),
		slog.Int("steps", len(r.res.Traces)),
		slog.Int("references", len(r.res.References)),
	)
	return r.res, nil
}

// loop runs plan, execute and reflect rounds until reflection accepts the
// round or the retry budget is spent.
func (r *run) loop(ctx context.Context) error {
	a := r.a
	skipTools := r.res.Route == RouteUnknown && shouldSkipTools(r.question)
	rounds := 1 + a.maxRetries

	var (
		feedback  string
		prevSteps []Step
		prevObs   []string
	)
	for round := 1; round <= rounds; round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("agent: run cancelled: %w", err)
		}

		start := time.Now()
		plan := a.planner.Plan(ctx, PlanRequest{
			Question:             r.question,
			Route:                r.res.Route,
			Memory:               r.mem,
			History:              r.history,
			Feedback:             feedback,
			PreviousSteps:        prevSteps,
			PreviousObservations: prevObs,
		})
		r.res.PlanningCalls++
		r.res.Rounds = round
		r.stage(fmt.Sprintf("plan.%d", round), start,
			fmt.Sprintf("source=%s steps=%d", plan.Source, len(plan.Steps)))

		traces, retrieved, err := r.execute(ctx, round, plan.Steps)
		if err != nil {
			return err
		}

		if round == rounds {
			break
		}

		start = time.Now()
		d := reflect(roundOutcome{
			route:         r.res.Route,
			skipTools:     skipTools,
			steps:         plan.Steps,
			traces:        traces,
			hasRetrieval:  retrieved,
			referenceSize: len(r.refs),
			memoryContext: r.mem.HasContext(),
		})
		r.stage(fmt.Sprintf("reflect.%d", round), start, d.Reason)
		if !d.Retry {
			break
		}

		logging.FromContext(ctx).Debug("agent: replanning",
			slog.Int("round", round), slog.String("reason", d.Reason))
		feedback = d.Feedback
		prevSteps = plan.Steps
		prevObs = make([]string, len(traces))
		for i, t := range traces {
			prevObs[i] = t.Observation
		}
	}
	return nil
}

// execute runs steps in order. It reports the round's traces and whether a
// retrieval succeeded in this round. The only error is cancellation.
func (r *run) execute(ctx context.Context, round int, steps []Step) ([]TraceStep, bool, error) {
	var (
		traces    []TraceStep
		retrieved bool
	)
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return traces, retrieved, fmt.Errorf("agent: run cancelled: %w", err)
		}

		start := time.Now()
		trace := TraceStep{
			StepNo: len(r.res.Traces) + 1,
			Round:  round,
			Tool:   step.Tool,
			Input:  step.Input,
			Reason: step.Reason,
		}

		stop := false
		switch {
		case step.Tool == tools.Finish:
			trace.Observation = "finish"
			stop = true
		case !r.a.registry.Has(step.Tool):
			trace.Observation = fmt.Sprintf("%s%s", obsToolNotRegistered, step.Tool)
		default:
			out, err := r.invoke(ctx, step)
			if err != nil {
				trace.Observation = obsToolFailed + err.Error()
				logging.FromContext(ctx).Warn("agent: tool failed",
					slog.String("tool", string(step.Tool)), slog.Any("error", err))
				break
			}
			trace.Observation = out.Observation
			if r.absorb(out) {
				retrieved = true
			}
		}

		trace.Elapsed = time.Since(start)
		traces = append(traces, trace)
		r.res.Traces = append(r.res.Traces, trace)
		r.stage(fmt.Sprintf("tool.%d.%d.%s", round, i+1, step.Tool), start, trace.Observation)

		if stop {
			break
		}
	}
	return traces, retrieved, nil
}

// invoke calls the tool, converting a panic into an error.
func (r *run) invoke(ctx context.Context, step Step) (out *tools.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()

	tc := &tools.Context{
		Question:  r.question,
		History:   r.history,
		Memory:    r.mem,
		Scratch:   r.scratch,
		Retriever: r.a.retriever,
		Params:    r.a.params,
	}
	out, err = r.a.registry.Run(ctx, step.Tool, step.Input, tc)
	if err == nil && out == nil {
		err = errors.New("tool returned no output")
	}
	return out, err
}

// absorb merges a successful tool output into the run and memory. It
// reports whether the output carried a retrieval.
func (r *run) absorb(out *tools.Output) bool {
	for _, h := range out.References {
		k := keyOf(h)
		if _, dup := r.seen[k]; dup {
			continue
		}
		r.seen[k] = struct{}{}
		r.refs = append(r.refs, h)
	}

	r.mem.Apply(out.MemoryDelta)

	meta := out.Metadata.Retrieval
	if meta == nil {
		return false
	}
	r.scratch.RetrievalText = meta.Text
	r.scratch.HasRetrieval = true
	r.rerankApplied = meta.RerankerApplied
	r.rerankMessage = meta.RerankerMessage
	return true
}

// synthesize produces the answer and updates memory.
func (r *run) synthesize(ctx context.Context) error {
	a := r.a
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("agent: run cancelled: %w", err)
	}

	refs := r.refs
	if len(refs) == 0 && len(r.mem.LastReferences) > 0 {
		refs = append([]retrieval.Hit(nil), r.mem.LastReferences...)
	}

	traces := r.res.Traces
	if len(traces) > a.maxTraces {
		traces = traces[len(traces)-a.maxTraces:]
	}
	shown := refs
	if len(shown) > a.maxReferences {
		shown = shown[:a.maxReferences]
	}

	in := AnswerInput{
		Question:     r.question,
		Route:        r.res.Route,
		SystemPrompt: r.systemPrompt(),
		References:   shown,
		Traces:       traces,
		History:      r.history,
	}

	start := time.Now()
	var (
		answer string
		err    error
	)
	if a.answer != nil {
		answer, err = a.answer(ctx, in)
	} else {
		answer, err = a.chat.Chat(ctx, r.answerMessages(ctx, in), a.answerTemperature)
	}
	if err != nil {
		return fmt.Errorf("agent: answer: %w", err)
	}
	r.stage("answer", start, fmt.Sprintf("references=%d", len(shown)))

	r.mem.TurnCount++
	r.mem.LastQuestion = r.question
	r.mem.LastAnswer = answer
	if len(refs) > 0 {
		r.mem.LastReferences = refs
	}

	r.res.Answer = answer
	r.res.References = shown
	r.res.RerankerApplied = r.rerankApplied
	r.res.RerankerMessage = r.rerankMessage
	r.res.MemorySummary = r.mem.Summarize()
	return nil
}

// systemPrompt selects the answer prompt variant for the route.
func (r *run) systemPrompt() string {
	switch {
	case r.res.Route == RouteSmalltalk:
		return chitchatSystemPrompt
	case r.res.Route == RouteOther:
		return generalSystemPrompt
	case r.res.Route == RouteUnknown && len(r.res.Traces) == 0:
		return generalSystemPrompt
	default:
		return finalSystemPrompt
	}
}

// answerMessages builds the answer request: system prompt, trimmed history
// and the user prompt.
func (r *run) answerMessages(ctx context.Context, in AnswerInput) []*schema.Message {
	user := in.Question
	if in.SystemPrompt == finalSystemPrompt {
		user = answerUserPrompt(in.Question, in.Traces, in.References)
	}

	system := schema.SystemMessage(in.SystemPrompt)
	current := schema.UserMessage(user)
	fixed := []*schema.Message{system, current}

	before := len(in.History)
	history := budget.TrimHistory(fixed, in.History, r.a.maxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", r.a.maxContextTokens),
		)
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, system)
	msgs = append(msgs, history...)
	msgs = append(msgs, current)
	return msgs
}

// stage records the elapsed time of a stage and notifies the progress hook.
func (r *run) stage(name string, start time.Time, detail string) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	r.res.StageTimings[name] = ms
	if r.a.progress == nil {
		return
	}
	defer func() { _ = recover() }()
	r.a.progress(name, ms, detail)
}
