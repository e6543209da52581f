// Package metrics provides the scheduler core's internal instrumentation:
// counters, gauges, and timers for offers held, bans issued, preemptions,
// and schedule-pass latency. This is deliberately not the out-of-scope
// HTTP metrics-exporter surface (spec §1) — it is the sink-agnostic
// recording surface every component calls into; wiring a sink (statsd,
// Prometheus, or the in-memory sink tests use) is cmd/schedulerd's job.
package metrics

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

// Recorder is the narrow surface every component depends on instead of the
// go-metrics package directly, so tests can substitute a no-op or
// assertion-friendly stand-in without standing up a real sink.
type Recorder interface {
	IncrCounter(key []string, val float32)
	SetGauge(key []string, val float32)
	MeasureSince(key []string, start time.Time)
}

// New wires a Recorder backed by go-metrics with serviceName as the
// metric-name prefix, emitting to sink.
func New(serviceName string, sink gometrics.MetricSink) Recorder {
	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m := gometrics.NewGlobal(cfg, sink)
	return goMetricsRecorder{m}
}

// NewInmem wires a Recorder over an in-memory sink, for tests that assert
// on recorded values.
func NewInmem(serviceName string) (Recorder, *gometrics.InmemSink) {
	sink := gometrics.NewInmemSink(time.Minute, 5*time.Minute)
	return New(serviceName, sink), sink
}

type goMetricsRecorder struct {
	m *gometrics.Metrics
}

func (r goMetricsRecorder) IncrCounter(key []string, val float32)      { r.m.IncrCounter(key, val) }
func (r goMetricsRecorder) SetGauge(key []string, val float32)         { r.m.SetGauge(key, val) }
func (r goMetricsRecorder) MeasureSince(key []string, start time.Time) { r.m.MeasureSince(key, start) }

// Keys used by the offers, sched, and preempt packages, collected here so
// call sites don't invent ad hoc metric names.
var (
	OffersHeld        = []string{"offers", "held"}
	OffersBanned      = []string{"offers", "banned"}
	SchedulePassTimer = []string{"sched", "pass"}
	PreemptionsIssued = []string{"preempt", "issued"}
)

// Nop is a Recorder that discards every call, for components constructed
// without a metrics sink (e.g. most unit tests).
type Nop struct{}

func (Nop) IncrCounter([]string, float32)    {}
func (Nop) SetGauge([]string, float32)       {}
func (Nop) MeasureSince([]string, time.Time) {}
