package harness

import (
	"context"
	"time"
)

// Recorder observes a run as it progresses. The store, metrics collector and
// any other sink implement it. Errors are collected and returned from Run;
// they never change case outcomes.
type Recorder interface {
	BeginRun(ctx context.Context, runID string, startedAt time.Time) error
	RecordCase(ctx context.Context, runID string, c *CaseResult) error
	EndRun(ctx context.Context, result *RunResult) error
}

// MemoryRecorder keeps everything it is given. Useful in tests.
type MemoryRecorder struct {
	RunIDs []string
	Cases  []*CaseResult
	Ended  []*RunResult
}

func (m *MemoryRecorder) BeginRun(_ context.Context, runID string, _ time.Time) error {
	m.RunIDs = append(m.RunIDs, runID)
	return nil
}

func (m *MemoryRecorder) RecordCase(_ context.Context, _ string, c *CaseResult) error {
	m.Cases = append(m.Cases, c)
	return nil
}

func (m *MemoryRecorder) EndRun(_ context.Context, result *RunResult) error {
	m.Ended = append(m.Ended, result)
	return nil
}
