package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/54b3r/ragent-go/internal/logging"
	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/store"
)

const (
	// DefaultMaxSessions is the number of live sessions kept in memory.
	DefaultMaxSessions = 256
	// DefaultHistoryDepth is the number of prior turns injected per question.
	DefaultHistoryDepth = 10
)

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	// MaxSessions bounds the live session cache. The least recently used
	// session is evicted, losing its memory. Defaults to DefaultMaxSessions.
	MaxSessions int
	// HistoryDepth is the number of prior turns (user+assistant pairs) kept
	// per session. Defaults to DefaultHistoryDepth if zero.
	HistoryDepth int
	// History optionally persists conversation transcripts. If nil, history
	// lives only as long as the session.
	History store.ConversationStore
	// Recorder optionally persists run traces.
	Recorder store.RunRecorder
}

// session is one conversation. mu serializes turns.
type session struct {
	mu      sync.Mutex
	id      string
	mem     *memory.Memory
	history []*schema.Message
	loaded  bool
	// dropped is set by Reset; a turn that acquires a dropped session
	// starts over on a fresh one.
	dropped bool
}

// SessionManager owns per-session memory and history and serializes turns
// within a session. Distinct sessions run concurrently.
type SessionManager struct {
	agent        *Agent
	sessions     *lru.Cache[string, *session]
	mu           sync.Mutex
	historyDepth int
	history      store.ConversationStore
	recorder     store.RunRecorder
}

// NewSessionManager returns a SessionManager running questions through a.
func NewSessionManager(a *Agent, cfg SessionConfig) (*SessionManager, error) {
	if a == nil {
		return nil, fmt.Errorf("agent: session manager needs an agent")
	}
	size := cfg.MaxSessions
	if size <= 0 {
		size = DefaultMaxSessions
	}
	cache, err := lru.New[string, *session](size)
	if err != nil {
		return nil, fmt.Errorf("agent: session cache: %w", err)
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &SessionManager{
		agent:        a,
		sessions:     cache,
		historyDepth: depth,
		history:      cfg.History,
		recorder:     cfg.Recorder,
	}, nil
}

func (m *SessionManager) get(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions.Get(id); ok {
		return s
	}
	s := &session{id: id, mem: memory.New()}
	m.sessions.Add(id, s)
	return s
}

// Ask answers question within session id.
func (m *SessionManager) Ask(ctx context.Context, id, question string) (*Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("agent: session id must not be empty")
	}
	s := m.get(id)
	s.mu.Lock()
	for s.dropped {
		s.mu.Unlock()
		s = m.get(id)
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	log := logging.FromContext(ctx).With(slog.String("session_id", id))
	ctx = logging.WithLogger(ctx, log)

	if !s.loaded {
		s.history = m.loadHistory(ctx, id)
		s.loaded = true
	}

	res, err := m.agent.Run(ctx, s.mem, question, s.history)
	if err != nil {
		return nil, err
	}

	s.history = append(s.history, schema.UserMessage(question), schema.AssistantMessage(res.Answer, nil))
	if limit := m.historyDepth * 2; len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}

	// Persistence failures are logged; the answer is already produced.
	if m.history != nil {
		if err := m.history.Append(ctx, id, store.RoleUser, question); err != nil {
			log.Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := m.history.Append(ctx, id, store.RoleAssistant, res.Answer); err != nil {
			log.Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}
	if m.recorder != nil {
		if err := m.recorder.RecordRun(ctx, runRecord(id, question, res)); err != nil {
			log.Warn("runs: failed to record run", slog.Any("error", err))
		}
	}
	return res, nil
}

func (m *SessionManager) loadHistory(ctx context.Context, id string) []*schema.Message {
	if m.history == nil {
		return nil
	}
	prior, err := m.history.Recent(ctx, id, m.historyDepth*2)
	if err != nil {
		logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		return nil
	}
	var msgs []*schema.Message
	for _, p := range prior {
		switch p.Role {
		case store.RoleUser:
			msgs = append(msgs, schema.UserMessage(p.Content))
		case store.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(p.Content, nil))
		}
	}
	return msgs
}

// Reset clears the memory and history of session id. It waits for a turn
// in flight on that session to finish first.
func (m *SessionManager) Reset(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions.Peek(id)
	m.mu.Unlock()

	if ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dropped = true
		s.mem.Reset()
		s.history = nil

		m.mu.Lock()
		if cur, ok := m.sessions.Peek(id); ok && cur == s {
			m.sessions.Remove(id)
		}
		m.mu.Unlock()
	}

	if m.history != nil {
		if err := m.history.Clear(ctx, id); err != nil {
			return fmt.Errorf("agent: reset session %s: %w", id, err)
		}
	}
	return nil
}

// Summary returns the memory digest of session id, if it is live.
func (m *SessionManager) Summary(id string) (string, bool) {
	m.mu.Lock()
	s, ok := m.sessions.Peek(id)
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Summarize(), true
}

// Runs returns recorded runs of session id, newest first.
func (m *SessionManager) Runs(ctx context.Context, id string, n int) ([]store.RunRecord, error) {
	if m.recorder == nil {
		return nil, nil
	}
	return m.recorder.Runs(ctx, id, n)
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	return m.sessions.Len()
}

func runRecord(sessionID, question string, res *Result) store.RunRecord {
	steps := make([]store.StepRecord, len(res.Traces))
	for i, t := range res.Traces {
		steps[i] = store.StepRecord{
			StepNo:      t.StepNo,
			Round:       t.Round,
			Tool:        string(t.Tool),
			Input:       t.Input,
			Observation: t.Observation,
			ElapsedMS:   float64(t.Elapsed.Microseconds()) / 1000,
		}
	}
	return store.RunRecord{
		RunID:           res.RunID,
		SessionID:       sessionID,
		Question:        question,
		Answer:          res.Answer,
		Route:           string(res.Route),
		Rounds:          res.Rounds,
		PlanningCalls:   res.PlanningCalls,
		RerankerMessage: res.RerankerMessage,
		CreatedAt:       time.Now(),
		Steps:           steps,
	}
}
