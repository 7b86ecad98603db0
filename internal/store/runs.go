package store

import (
	"context"
	"fmt"
	"time"
)

// StepRecord is one executed tool step of a run.
type StepRecord struct {
	StepNo      int     `json:"step_no"`
	Round       int     `json:"round"`
	Tool        string  `json:"tool"`
	Input       string  `json:"input"`
	Observation string  `json:"observation"`
	ElapsedMS   float64 `json:"elapsed_ms"`
}

// RunRecord is the audit record of one agent run.
type RunRecord struct {
	RunID           string       `json:"run_id"`
	SessionID       string       `json:"session_id"`
	Question        string       `json:"question"`
	Answer          string       `json:"answer"`
	Route           string       `json:"route"`
	Rounds          int          `json:"rounds"`
	PlanningCalls   int          `json:"planning_calls"`
	RerankerMessage string       `json:"reranker_message"`
	CreatedAt       time.Time    `json:"created_at"`
	Steps           []StepRecord `json:"steps"`
}

// RunRecorder persists and lists run traces. Implementations must be safe
// for concurrent use.
type RunRecorder interface {
	// RecordRun persists rec and its steps atomically.
	RecordRun(ctx context.Context, rec RunRecord) error
	// Runs returns up to n most recent runs of the session, newest first,
	// with their steps.
	Runs(ctx context.Context, sessionID string, n int) ([]RunRecord, error)
}

// RecordRun persists rec and its steps in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: record run: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insRun = `INSERT INTO runs
    (run_id, session_id, question, answer, route, rounds, planning_calls, reranker_msg, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insRun, rec.RunID, rec.SessionID, rec.Question, rec.Answer,
		rec.Route, rec.Rounds, rec.PlanningCalls, rec.RerankerMessage, rec.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("store: record run: %w", err)
	}

	const insStep = `INSERT INTO run_steps
    (run_id, step_no, round, tool, input, observation, elapsed_ms)
    VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, st := range rec.Steps {
		if _, err := tx.ExecContext(ctx, insStep, rec.RunID, st.StepNo, st.Round, st.Tool,
			st.Input, st.Observation, st.ElapsedMS); err != nil {
			return fmt.Errorf("store: record step %d: %w", st.StepNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: record run: commit: %w", err)
	}
	return nil
}

// Runs returns up to n most recent runs of the session, newest first.
func (s *SQLiteStore) Runs(ctx context.Context, sessionID string, n int) ([]RunRecord, error) {
	const q = `
SELECT run_id, session_id, question, answer, route, rounds, planning_calls, reranker_msg, created_at
FROM   runs
WHERE  session_id = ?
ORDER  BY created_at DESC, rowid DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: runs: %w", err)
	}

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var ts int64
		if err := rows.Scan(&r.RunID, &r.SessionID, &r.Question, &r.Answer, &r.Route,
			&r.Rounds, &r.PlanningCalls, &r.RerankerMessage, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: runs scan: %w", err)
		}
		r.CreatedAt = time.Unix(ts, 0)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: runs rows: %w", err)
	}
	rows.Close()

	// Steps are loaded after the runs cursor is closed; the pool holds a
	// single connection.
	for i := range runs {
		steps, err := s.steps(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

func (s *SQLiteStore) steps(ctx context.Context, runID string) ([]StepRecord, error) {
	const q = `
SELECT step_no, round, tool, input, observation, elapsed_ms
FROM   run_steps
WHERE  run_id = ?
ORDER  BY step_no ASC`

	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("store: steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var st StepRecord
		if err := rows.Scan(&st.StepNo, &st.Round, &st.Tool, &st.Input, &st.Observation, &st.ElapsedMS); err != nil {
			return nil, fmt.Errorf("store: steps scan: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: steps rows: %w", err)
	}
	return steps, nil
}
