package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/xtsunit/internal/harness"
)

// RunRecord is a stored run without its cases.
type RunRecord struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	Finished  bool            `json:"finished"`
	Duration  time.Duration   `json:"duration_ns"`
	Summary   harness.Summary `json:"summary"`
}

// CaseRecord is a stored case result.
type CaseRecord struct {
	ID       string          `json:"id"`
	RunID    string          `json:"run_id"`
	Seq      int64           `json:"seq"`
	Suite    []string        `json:"suite"`
	Name     string          `json:"name"`
	Flags    harness.Flags   `json:"flags"`
	Status   harness.Status  `json:"status"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
	Outcomes []OutcomeRecord `json:"outcomes"`
}

// OutcomeRecord is a stored assertion. Actual and Expected hold canonical
// JSON; Expected is empty for unary assertions.
type OutcomeRecord struct {
	ID       string              `json:"id"`
	Index    int                 `json:"index"`
	Kind     harness.OutcomeKind `json:"kind"`
	Negated  bool                `json:"negated,omitempty"`
	Pass     bool                `json:"pass"`
	Message  string              `json:"message,omitempty"`
	Actual   json.RawMessage     `json:"actual"`
	Expected json.RawMessage     `json:"expected,omitempty"`
}

// FullName joins the suite path and case name with "/".
func (c *CaseRecord) FullName() string {
	return strings.Join(append(append([]string{}, c.Suite...), c.Name), "/")
}

// ReadRun returns the run row for runID.
func (s *Store) ReadRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished, duration_ns,
			total, passed, failed, timed_out, skipped,
			assertions, assertions_failed, hook_failures
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, most recent first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished, duration_ns,
			total, passed, failed, timed_out, skipped,
			assertions, assertions_failed, hook_failures
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRunID returns the ID of the most recently started run.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	return runs[0].ID, nil
}

// ReadCases returns the cases of a run ordered by seq, with their outcomes.
// Returns an empty slice (not nil) if the run has no cases.
func (s *Store) ReadCases(ctx context.Context, runID string) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, suite, name, flags, status, error, duration_ns
		FROM cases
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	cases := []CaseRecord{}
	for rows.Next() {
		var (
			c         CaseRecord
			suiteJSON string
			flags     int64
			status    string
			duration  int64
		)
		if err := rows.Scan(&c.ID, &c.RunID, &c.Seq, &suiteJSON, &c.Name, &flags, &status, &c.Error, &duration); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		if err := json.Unmarshal([]byte(suiteJSON), &c.Suite); err != nil {
			return nil, fmt.Errorf("unmarshal suite of case %s: %w", c.ID, err)
		}
		c.Flags = harness.Flags(flags)
		c.Status = harness.Status(status)
		c.Duration = time.Duration(duration)
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	rows.Close()

	// Outcomes are read after the case cursor is closed; the pool has a
	// single connection.
	for i := range cases {
		outcomes, err := s.readOutcomes(ctx, cases[i].ID)
		if err != nil {
			return nil, err
		}
		cases[i].Outcomes = outcomes
	}
	return cases, nil
}

func (s *Store) readOutcomes(ctx context.Context, caseID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idx, kind, negated, pass, message, actual, expected
		FROM outcomes
		WHERE case_id = ?
		ORDER BY idx ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []OutcomeRecord{}
	for rows.Next() {
		var (
			o        OutcomeRecord
			kind     string
			actual   string
			expected sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.Index, &kind, &o.Negated, &o.Pass, &o.Message, &actual, &expected); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Kind = harness.OutcomeKind(kind)
		o.Actual = json.RawMessage(actual)
		if expected.Valid {
			o.Expected = json.RawMessage(expected.String)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// ReadHookFailures returns the hook failures of a run ordered by seq.
func (s *Store) ReadHookFailures(ctx context.Context, runID string) ([]harness.HookFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, suite, hook, case_name, error
		FROM hook_failures
		WHERE run_id = ?
		ORDER BY seq ASC, hook COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query hook failures: %w", err)
	}
	defer rows.Close()

	failures := []harness.HookFailure{}
	for rows.Next() {
		var (
			hf        harness.HookFailure
			suiteJSON string
			hook      string
		)
		if err := rows.Scan(&hf.Seq, &suiteJSON, &hook, &hf.Case, &hf.Error); err != nil {
			return nil, fmt.Errorf("scan hook failure: %w", err)
		}
		if err := json.Unmarshal([]byte(suiteJSON), &hf.Suite); err != nil {
			return nil, fmt.Errorf("unmarshal hook suite: %w", err)
		}
		hf.Hook = harness.HookKind(hook)
		failures = append(failures, hf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hook failures: %w", err)
	}
	return failures, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		run       RunRecord
		startedAt string
		duration  int64
	)
	err := row.Scan(&run.ID, &startedAt, &run.Finished, &duration,
		&run.Summary.Total, &run.Summary.Passed, &run.Summary.Failed,
		&run.Summary.TimedOut, &run.Summary.Skipped,
		&run.Summary.Assertions, &run.Summary.AssertionsFailed, &run.Summary.HookFailures)
	if err != nil {
		return nil, err
	}
	run.StartedAt, err = time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	run.Duration = time.Duration(duration)
	return &run, nil
}
