package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/roach88/xtsunit/internal/harness"
	"github.com/roach88/xtsunit/internal/testutil"
)

// runIntoStore executes a small registry with the store attached as a
// recorder and returns the in-memory result for comparison.
func runIntoStore(t *testing.T, s *Store) *harness.RunResult {
	t.Helper()

	reg := harness.NewRegistry()
	err := reg.Describe("store", func(su *harness.Suite) {
		su.AfterEach(harness.Sync(func(t *harness.T) {
			t.Expect(t.Name()).AssertEqual("never")
		}))
		su.It("passes", harness.TypeFunction|harness.Level1, harness.Sync(func(t *harness.T) {
			t.Expect([]float32{1.5}).AssertEqual([]float32{1.5})
			t.Expect(true).AssertTrue()
		}))
		su.Describe("inner", func(su *harness.Suite) {
			su.It("fails", 0, harness.Callback(func(t *harness.T, done harness.Done) {
				t.Expect("a").AssertEqual("b")
				done()
			}))
		})
	})
	if err != nil {
		t.Fatalf("Describe() failed: %v", err)
	}

	result, err := harness.Run(context.Background(), reg,
		harness.WithRunID("run-1"),
		harness.WithClock(testutil.NewFakeClock(time.Millisecond)),
		harness.WithRecorder(s),
	)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return result
}

func TestRecorder_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	result := runIntoStore(t, s)

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if !run.Finished {
		t.Error("run should be finished")
	}
	if run.Summary != result.Summary {
		t.Errorf("Summary = %+v, want %+v", run.Summary, result.Summary)
	}
	if run.Duration != result.Duration {
		t.Errorf("Duration = %v, want %v", run.Duration, result.Duration)
	}
	if !run.StartedAt.Equal(testutil.Epoch) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, testutil.Epoch)
	}

	cases, err := s.ReadCases(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadCases() failed: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("got %d cases, want 2", len(cases))
	}

	want := result.Cases()
	for i, c := range cases {
		if c.ID != want[i].ID {
			t.Errorf("case %d ID = %s, want %s", i, c.ID, want[i].ID)
		}
		if c.FullName() != want[i].FullName() {
			t.Errorf("case %d name = %s, want %s", i, c.FullName(), want[i].FullName())
		}
		if c.Status != want[i].Status {
			t.Errorf("case %d status = %s, want %s", i, c.Status, want[i].Status)
		}
		if c.Seq != want[i].Seq {
			t.Errorf("case %d seq = %d, want %d", i, c.Seq, want[i].Seq)
		}
		if len(c.Outcomes) != len(want[i].Outcomes) {
			t.Errorf("case %d has %d outcomes, want %d", i, len(c.Outcomes), len(want[i].Outcomes))
		}
	}

	if cases[0].Flags != harness.TypeFunction|harness.Level1 {
		t.Errorf("flags = %s", cases[0].Flags)
	}
	if cases[1].Error != `expect "a" equals "b"` {
		t.Errorf("error = %q", cases[1].Error)
	}

	typed := cases[0].Outcomes[0]
	if string(typed.Actual) != `{"$typed":"Float32Array","values":[1.5]}` {
		t.Errorf("actual = %s", typed.Actual)
	}
	if !json.Valid(typed.Expected) {
		t.Errorf("expected is not valid JSON: %s", typed.Expected)
	}
}

func TestRecorder_HookFailures(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	result := runIntoStore(t, s)

	failures, err := s.ReadHookFailures(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadHookFailures() failed: %v", err)
	}
	if len(failures) != len(result.HookFailures()) || len(failures) != 2 {
		t.Fatalf("got %d hook failures, want 2 (result has %d)", len(failures), len(result.HookFailures()))
	}
	for i, hf := range failures {
		if hf.Hook != harness.HookAfterEach {
			t.Errorf("failure %d hook = %s", i, hf.Hook)
		}
		if len(hf.Suite) != 1 || hf.Suite[0] != "store" {
			t.Errorf("failure %d suite = %v", i, hf.Suite)
		}
	}
	if failures[0].Case != "passes" || failures[1].Case != "fails" {
		t.Errorf("cases = %s, %s", failures[0].Case, failures[1].Case)
	}
	if failures[0].Seq >= failures[1].Seq {
		t.Errorf("failures not ordered by seq: %d, %d", failures[0].Seq, failures[1].Seq)
	}
}
