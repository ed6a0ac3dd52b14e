// Package harness is a BDD test harness with describe/it/expect semantics and
// asynchronous completion.
//
// # Registration
//
// Suites are registered with Describe, which runs the registration function
// immediately. Inside it, It registers cases and BeforeAll, BeforeEach,
// AfterEach and AfterAll register hooks:
//
//	harness.Describe("rdb", func(s *harness.Suite) {
//	    s.BeforeAll(harness.Sync(func(t *harness.T) { ... }))
//	    s.It("insert", harness.TypeFunction|harness.SizeMedium, harness.Callback(
//	        func(t *harness.T, done harness.Done) {
//	            t.Expect(1).AssertEqual(1)
//	            done()
//	        }))
//	})
//
// A suite is frozen once its registration function returns.
//
// # Bodies
//
// Sync bodies complete when they return. Async bodies complete when they
// return, and a returned error is a rejection. Callback bodies complete only
// when done is called; further calls to done are ignored. A panic is an
// uncaught exception. Every body is bounded by a timeout (DefaultTimeout
// unless overridden), after which the case is timed_out.
//
// # Execution
//
// Cases run one at a time in registration order, followed by nested suites.
// For each suite BeforeAll runs once first and AfterAll once last; for each
// case the BeforeEach hooks of all enclosing suites run outermost first, then
// the body, then the AfterEach hooks innermost first.
//
// Assertion failures are recorded and never stop the body. A case passes
// when its body completed and every assertion passed.
//
// # Scenarios
//
// Scenario files (YAML or CUE) describe suites declaratively. Their steps call
// the stub system APIs of package sysapi and make assertions; see Scenario.
//
// # Deterministic Output
//
// Trace events and cases are stamped from a logical Sequence, so a snapshot
// (SnapshotJSON) is stable across runs given a fixed run ID.
package harness
