package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/xtsunit/internal/harness"
	"github.com/roach88/xtsunit/internal/ir"
)

var _ harness.Recorder = (*Store)(nil)

// BeginRun inserts the run row. Uses ON CONFLICT(id) DO NOTHING so a resumed
// run keeps its original start time.
func (s *Store) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, runID, startedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordCase writes a case and its outcomes in one transaction.
// Duplicate case IDs are silently ignored, outcomes included.
//
// Note: The run referenced by runID must exist (foreign key constraint).
func (s *Store) RecordCase(ctx context.Context, runID string, c *harness.CaseResult) error {
	suiteJSON, err := ir.MarshalCanonical(c.Suite)
	if err != nil {
		return fmt.Errorf("record case: marshal suite: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record case: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO cases
		(id, run_id, seq, suite, name, flags, status, error, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		c.ID,
		runID,
		c.Seq,
		string(suiteJSON),
		c.Name,
		int64(c.Flags),
		string(c.Status),
		c.Error,
		int64(c.Duration),
	)
	if err != nil {
		return fmt.Errorf("record case: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record case: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return tx.Commit()
	}

	for i, o := range c.Outcomes {
		if err := insertOutcome(ctx, tx, c.ID, i, o); err != nil {
			return fmt.Errorf("record case: outcome %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record case: commit: %w", err)
	}
	return nil
}

func insertOutcome(ctx context.Context, tx *sql.Tx, caseID string, index int, o harness.Outcome) error {
	actual, err := ir.MarshalCanonical(o.Actual)
	if err != nil {
		return fmt.Errorf("marshal actual: %w", err)
	}

	// Unary assertions have no expected value; keep it NULL rather than
	// storing undefined.
	var expected sql.NullString
	if o.Expected != nil {
		data, err := ir.MarshalCanonical(o.Expected)
		if err != nil {
			return fmt.Errorf("marshal expected: %w", err)
		}
		expected = sql.NullString{String: string(data), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outcomes
		(id, case_id, idx, kind, negated, pass, message, actual, expected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ir.OutcomeID(caseID, index),
		caseID,
		index,
		string(o.Kind),
		o.Negated,
		o.Pass,
		o.Message,
		string(actual),
		expected,
	)
	return err
}

// EndRun stores the run summary and its hook failures.
func (s *Store) EndRun(ctx context.Context, result *harness.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("end run: begin tx: %w", err)
	}
	defer tx.Rollback()

	sum := result.Summary
	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET
			finished = 1,
			duration_ns = ?,
			total = ?, passed = ?, failed = ?, timed_out = ?, skipped = ?,
			assertions = ?, assertions_failed = ?, hook_failures = ?
		WHERE id = ?
	`,
		int64(result.Duration),
		sum.Total, sum.Passed, sum.Failed, sum.TimedOut, sum.Skipped,
		sum.Assertions, sum.AssertionsFailed, sum.HookFailures,
		result.RunID,
	)
	if err != nil {
		return fmt.Errorf("end run: update: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("end run: rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("end run %s: %w", result.RunID, ErrRunNotFound)
	}

	for _, hf := range result.HookFailures() {
		suiteJSON, err := ir.MarshalCanonical(hf.Suite)
		if err != nil {
			return fmt.Errorf("end run: marshal hook suite: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO hook_failures
			(run_id, seq, suite, hook, case_name, error)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, result.RunID, hf.Seq, string(suiteJSON), string(hf.Hook), hf.Case, hf.Error)
		if err != nil {
			return fmt.Errorf("end run: insert hook failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("end run: commit: %w", err)
	}
	return nil
}
