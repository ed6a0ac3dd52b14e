package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/xtsunit/internal/harness"
	"github.com/roach88/xtsunit/internal/testutil"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"runs", "cases", "outcomes", "hook_failures"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.expected); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_MigrationIndex(t *testing.T) {
	s := createTestStore(t)

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_cases_run_status'").Scan(&name)
	if err != nil {
		t.Fatalf("migration index missing: %v", err)
	}
}

func TestOpen_MigratesVersionZeroDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.db.Exec("DROP INDEX idx_cases_run_status"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_cases_run_status'").Scan(&name)
	if err != nil {
		t.Fatalf("index not restored by migration: %v", err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	if err == nil {
		t.Fatal("expected error for path in missing directory")
	}
}

func TestBeginRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := testutil.Epoch
	if err := s.BeginRun(ctx, "run-1", first); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	if err := s.BeginRun(ctx, "run-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("second BeginRun() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if !run.StartedAt.Equal(first) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, first)
	}
	if run.Finished {
		t.Error("run should not be finished before EndRun")
	}
}

func TestRecordCase_RequiresRun(t *testing.T) {
	s := createTestStore(t)

	err := s.RecordCase(context.Background(), "no-such-run", &harness.CaseResult{
		ID:     "case-1",
		Suite:  []string{"s"},
		Name:   "a",
		Status: harness.StatusPassed,
		Seq:    1,
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestRecordCase_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.BeginRun(ctx, "run-1", testutil.Epoch); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}

	c := &harness.CaseResult{
		ID:     "case-1",
		Suite:  []string{"s"},
		Name:   "a",
		Status: harness.StatusPassed,
		Seq:    1,
		Outcomes: []harness.Outcome{
			{Kind: harness.KindTrue, Pass: true},
		},
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordCase(ctx, "run-1", c); err != nil {
			t.Fatalf("RecordCase() iteration %d failed: %v", i, err)
		}
	}

	cases, err := s.ReadCases(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadCases() failed: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("got %d cases, want 1", len(cases))
	}
	if len(cases[0].Outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(cases[0].Outcomes))
	}
	if cases[0].Outcomes[0].Expected != nil {
		t.Errorf("unary assertion should have no expected value, got %s", cases[0].Outcomes[0].Expected)
	}
}

func TestReads_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.ReadRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("ReadRun() error = %v, want ErrRunNotFound", err)
	}
	if _, err := s.LatestRunID(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestRunID() error = %v, want ErrRunNotFound", err)
	}
	if err := s.EndRun(ctx, &harness.RunResult{RunID: "nope"}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("EndRun() error = %v, want ErrRunNotFound", err)
	}

	cases, err := s.ReadCases(ctx, "nope")
	if err != nil {
		t.Fatalf("ReadCases() failed: %v", err)
	}
	if cases == nil || len(cases) != 0 {
		t.Errorf("ReadCases() = %v, want empty non-nil slice", cases)
	}
}

func TestListRuns_MostRecentFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	starts := map[string]time.Time{
		"run-a": testutil.Epoch,
		"run-b": testutil.Epoch.Add(time.Millisecond),
		"run-c": testutil.Epoch.Add(time.Second),
	}
	for id, at := range starts {
		if err := s.BeginRun(ctx, id, at); err != nil {
			t.Fatalf("BeginRun(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	want := []string{"run-c", "run-b", "run-a"}
	if len(ids) != len(want) {
		t.Fatalf("ListRuns() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListRuns()[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	limited, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns(2) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListRuns(2) returned %d runs", len(limited))
	}

	latest, err := s.LatestRunID(ctx)
	if err != nil {
		t.Fatalf("LatestRunID() failed: %v", err)
	}
	if latest != "run-c" {
		t.Errorf("LatestRunID() = %s, want run-c", latest)
	}
}
