package store

import (
	"context"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-a", RoleUser, "hello"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "sess-a", RoleAssistant, "world"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hello" {
		t.Errorf("msg[0]: want user/hello, got %s/%s", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "world" {
		t.Errorf("msg[1]: want assistant/world, got %s/%s", msgs[1].Role, msgs[1].Content)
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(ctx, "sess-b", role, "msg"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "sess-b", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("want 4 messages, got %d", len(msgs))
	}
}

func Test_Store_SessionIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-x", RoleUser, "from x"); err != nil {
		t.Fatalf("append x: %v", err)
	}
	if err := s.Append(ctx, "sess-y", RoleUser, "from y"); err != nil {
		t.Fatalf("append y: %v", err)
	}

	msgsX, err := s.Recent(ctx, "sess-x", 10)
	if err != nil {
		t.Fatalf("recent x: %v", err)
	}
	msgsY, err := s.Recent(ctx, "sess-y", 10)
	if err != nil {
		t.Fatalf("recent y: %v", err)
	}

	if len(msgsX) != 1 || msgsX[0].Content != "from x" {
		t.Errorf("session x isolation failed: got %v", msgsX)
	}
	if len(msgsY) != 1 || msgsY[0].Content != "from y" {
		t.Errorf("session y isolation failed: got %v", msgsY)
	}
}

func Test_Store_EmptySessionReturnsNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	msgs, err := s.Recent(ctx, "sess-empty", 10)
	if err != nil {
		t.Fatalf("recent empty: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("want 0 messages, got %d", len(msgs))
	}
}

func Test_Store_OldestFirstOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if err := s.Append(ctx, "sess-order", RoleUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "sess-order", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i, want := range contents {
		if msgs[i].Content != want {
			t.Errorf("msg[%d]: want %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func Test_Store_ClearRemovesOnlySession(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sess-c", "sess-d"} {
		if err := s.Append(ctx, id, RoleUser, "hi"); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := s.Clear(ctx, "sess-c"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	msgsC, err := s.Recent(ctx, "sess-c", 10)
	if err != nil {
		t.Fatalf("recent c: %v", err)
	}
	msgsD, err := s.Recent(ctx, "sess-d", 10)
	if err != nil {
		t.Fatalf("recent d: %v", err)
	}
	if len(msgsC) != 0 {
		t.Errorf("want cleared session empty, got %d messages", len(msgsC))
	}
	if len(msgsD) != 1 {
		t.Errorf("want other session untouched, got %d messages", len(msgsD))
	}
}

func Test_Store_RecordAndListRuns(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first := RunRecord{
		RunID:     "run-1",
		SessionID: "sess-r",
		Question:  "Q1_PROFIT + Q2_PROFIT - RD_COST",
		Answer:    "320.0",
		Route:     "needs_retrieval",
		Rounds:    1,
		Steps: []StepRecord{
			{StepNo: 1, Round: 1, Tool: "retrieve", Input: "<question>", Observation: "[1] a.md page=0", ElapsedMS: 1.5},
			{StepNo: 2, Round: 1, Tool: "calculate", Input: "Q1_PROFIT + Q2_PROFIT - RD_COST", Observation: "value=320.0"},
		},
	}
	second := RunRecord{RunID: "run-2", SessionID: "sess-r", Question: "add 10 to that", Answer: "330.0", Route: "needs_retrieval", Rounds: 1}

	for _, rec := range []RunRecord{first, second} {
		if err := s.RecordRun(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.RunID, err)
		}
	}

	runs, err := s.Runs(ctx, "sess-r", 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-2" {
		t.Errorf("want newest run first, got %s", runs[0].RunID)
	}
	if len(runs[1].Steps) != 2 || runs[1].Steps[1].Tool != "calculate" {
		t.Errorf("steps not restored in order: %+v", runs[1].Steps)
	}
	if runs[1].Steps[0].ElapsedMS != 1.5 {
		t.Errorf("elapsed: want 1.5, got %v", runs[1].Steps[0].ElapsedMS)
	}
}

func Test_Store_RecordRunDuplicateIDFails(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rec := RunRecord{RunID: "dup", SessionID: "sess-x", Route: "other"}
	if err := s.RecordRun(ctx, rec); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := s.RecordRun(ctx, rec); err == nil {
		t.Error("want error recording a duplicate run id")
	}
}
