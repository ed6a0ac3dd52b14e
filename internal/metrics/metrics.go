// Package metrics exports harness runs as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/xtsunit/internal/harness"
)

// Collector records case results into its own registry. It implements
// harness.Recorder so it can be attached to a runner directly.
type Collector struct {
	registry *prometheus.Registry

	// CasesTotal counts finished cases by status.
	CasesTotal *prometheus.CounterVec

	// AssertionsTotal counts assertions by result (pass or fail).
	AssertionsTotal *prometheus.CounterVec

	// CaseDuration measures case duration in seconds, skipped cases excluded.
	CaseDuration prometheus.Histogram

	// HookFailuresTotal counts failed lifecycle hooks by kind.
	HookFailuresTotal *prometheus.CounterVec

	// RunsTotal counts finished runs.
	RunsTotal prometheus.Counter

	// RunDuration is the duration of the last finished run in seconds.
	RunDuration prometheus.Gauge

	// LastRunTimestamp is the start time of the last run in unix seconds.
	LastRunTimestamp prometheus.Gauge
}

var _ harness.Recorder = (*Collector)(nil)

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		CasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xtsunit_cases_total",
				Help: "Total number of finished cases by status",
			},
			[]string{"status"},
		),
		AssertionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xtsunit_assertions_total",
				Help: "Total number of recorded assertions by result",
			},
			[]string{"result"},
		),
		CaseDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xtsunit_case_duration_seconds",
				Help:    "Case duration in seconds, hooks included",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		HookFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xtsunit_hook_failures_total",
				Help: "Total number of failed lifecycle hooks by kind",
			},
			[]string{"hook"},
		),
		RunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xtsunit_runs_total",
				Help: "Total number of finished runs",
			},
		),
		RunDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xtsunit_run_duration_seconds",
				Help: "Duration of the last finished run in seconds",
			},
		),
		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xtsunit_last_run_timestamp_seconds",
				Help: "Start time of the last run in unix seconds",
			},
		),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// BeginRun records the run start time.
func (c *Collector) BeginRun(_ context.Context, _ string, startedAt time.Time) error {
	c.LastRunTimestamp.Set(float64(startedAt.UnixNano()) / 1e9)
	return nil
}

// RecordCase records a case metric.
func (c *Collector) RecordCase(_ context.Context, _ string, cr *harness.CaseResult) error {
	c.CasesTotal.WithLabelValues(string(cr.Status)).Inc()

	failed := cr.FailedOutcomes()
	c.AssertionsTotal.WithLabelValues("pass").Add(float64(len(cr.Outcomes) - failed))
	c.AssertionsTotal.WithLabelValues("fail").Add(float64(failed))

	if cr.Status != harness.StatusSkipped {
		c.CaseDuration.Observe(cr.Duration.Seconds())
	}
	return nil
}

// EndRun records hook failures and the run duration.
func (c *Collector) EndRun(_ context.Context, result *harness.RunResult) error {
	for _, hf := range result.HookFailures() {
		c.HookFailuresTotal.WithLabelValues(string(hf.Hook)).Inc()
	}
	c.RunsTotal.Inc()
	c.RunDuration.Set(result.Duration.Seconds())
	return nil
}

// WriteTextfile writes the metrics in the text exposition format, for the
// node exporter textfile collector. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
