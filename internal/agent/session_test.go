package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragent-go/internal/store"
)

func newTestSessions(t *testing.T, cfg SessionConfig) (*SessionManager, *stubRetriever) {
	t.Helper()
	retr := &stubRetriever{hits: profitHits}
	a := newTestAgent(t, &scriptedChat{route: "needs_retrieval"}, retr, nil)
	m, err := NewSessionManager(a, cfg)
	require.NoError(t, err)
	return m, retr
}

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionManager_MemoryCarriesAcrossTurns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openStore(t)
	m, retr := newTestSessions(t, SessionConfig{History: db, Recorder: db})

	_, err := m.Ask(ctx, "s1", "Q1_PROFIT + Q2_PROFIT - RD_COST")
	require.NoError(t, err)
	res, err := m.Ask(ctx, "s1", "add 10 to that")
	require.NoError(t, err)
	assert.Contains(t, res.Traces[0].Observation, "value=330.0")
	assert.Equal(t, 1, retr.calls())

	summary, ok := m.Summary("s1")
	require.True(t, ok)
	assert.Contains(t, summary, "turn_count=2")

	msgs, err := db.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, store.RoleUser, msgs[2].Role)
	assert.Equal(t, "add 10 to that", msgs[2].Content)

	runs, err := m.Runs(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, res.RunID, runs[0].RunID)
	require.Len(t, runs[0].Steps, 1)
	assert.Equal(t, "calculate", runs[0].Steps[0].Tool)
}

func TestSessionManager_SessionsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newTestSessions(t, SessionConfig{})

	_, err := m.Ask(ctx, "a", "Q1_PROFIT + Q2_PROFIT - RD_COST")
	require.NoError(t, err)

	res, err := m.Ask(ctx, "b", "add 10 to that")
	require.NoError(t, err)
	for _, tr := range res.Traces {
		assert.NotContains(t, tr.Observation, "330.0")
	}
	assert.Equal(t, 2, m.Len())
}

func TestSessionManager_ResetClearsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openStore(t)
	m, _ := newTestSessions(t, SessionConfig{History: db})

	_, err := m.Ask(ctx, "s", "Q1_PROFIT + Q2_PROFIT - RD_COST")
	require.NoError(t, err)
	require.NoError(t, m.Reset(ctx, "s"))

	_, ok := m.Summary("s")
	assert.False(t, ok)
	msgs, err := db.Recent(ctx, "s", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSessionManager_ResetWaitsForTurnInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openStore(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	chat := ChatFunc(func(_ context.Context, msgs []*schema.Message, _ *float32) (string, error) {
		if msgs[0].Content == routerSystemPrompt {
			return "smalltalk", nil
		}
		once.Do(func() { close(started) })
		<-release
		return "hi there", nil
	})
	m, err := NewSessionManager(newTestAgent(t, chat, &stubRetriever{}, nil), SessionConfig{History: db})
	require.NoError(t, err)

	askDone := make(chan error, 1)
	go func() {
		_, err := m.Ask(ctx, "s", "hello")
		askDone <- err
	}()
	<-started

	resetDone := make(chan error, 1)
	go func() { resetDone <- m.Reset(ctx, "s") }()
	select {
	case <-resetDone:
		t.Fatal("Reset returned while a turn was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-askDone)
	require.NoError(t, <-resetDone)

	msgs, err := db.Recent(ctx, "s", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "the finished turn must not survive the reset")
	_, ok := m.Summary("s")
	assert.False(t, ok)
}

func TestSessionManager_HistoryIsReloaded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openStore(t)
	require.NoError(t, db.Append(ctx, "old", store.RoleUser, "what was revenue"))
	require.NoError(t, db.Append(ctx, "old", store.RoleAssistant, "revenue was 10"))

	chat := &scriptedChat{route: "smalltalk"}
	a := newTestAgent(t, chat, &stubRetriever{}, nil)
	m, err := NewSessionManager(a, SessionConfig{History: db})
	require.NoError(t, err)

	_, err = m.Ask(ctx, "old", "thanks")
	require.NoError(t, err)
	require.Len(t, chat.answerMsgs, 4)
	assert.Equal(t, "what was revenue", chat.answerMsgs[1].Content)
	assert.Equal(t, "revenue was 10", chat.answerMsgs[2].Content)
}

func TestSessionManager_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newTestSessions(t, SessionConfig{MaxSessions: 4})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Ask(ctx, id, "Q1_PROFIT + Q2_PROFIT - RD_COST")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, m.Len())

	_, err := m.Ask(ctx, " ", "hi")
	require.Error(t, err)
}
