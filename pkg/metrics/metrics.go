// Package metrics exposes pipeline and build-health counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
)

const namespace = "ryze"

// Recorder owns a private registry. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	runsStarted       *prometheus.CounterVec
	runsFinished      *prometheus.CounterVec
	attemptsRejected  *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	runAttempts       *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	eventsPublished   *prometheus.CounterVec
	buildReports      *prometheus.CounterVec
	circuitBreakerHit prometheus.Counter
	healingPulses     prometheus.Counter
}

// New registers every collector plus the Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Runs started, by generation mode.",
		}, []string{"mode"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal stage, by mode, outcome and failure reason.",
		}, []string{"mode", "outcome", "reason"}),
		attemptsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_rejections_total",
			Help:      "Generated candidates rejected by the guardrail.",
		}, []string{"mode"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run start to terminal stage.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"outcome"}),
		runAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_attempts",
			Help:      "Generator calls per run.",
			Buckets:   []float64{1, 2, 3, 4},
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage task.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on project streams, by kind.",
		}, []string{"type"}),
		buildReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_reports_total",
			Help:      "Build status reports, by status.",
		}, []string{"status"}),
		circuitBreakerHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Times automated remediation was halted for a project.",
		}),
		healingPulses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_pulses_total",
			Help:      "Automated remediation attempts signalled.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.runsStarted,
		r.runsFinished,
		r.attemptsRejected,
		r.runDuration,
		r.runAttempts,
		r.stageDuration,
		r.eventsPublished,
		r.buildReports,
		r.circuitBreakerHit,
		r.healingPulses,
	)
	return r
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RunStarted(mode string) {
	if r == nil {
		return
	}
	r.runsStarted.WithLabelValues(mode).Inc()
}

func (r *Recorder) AttemptRejected(mode string) {
	if r == nil {
		return
	}
	r.attemptsRejected.WithLabelValues(mode).Inc()
}

func (r *Recorder) StageCompleted(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) RunFinished(mode, outcome, reason string, attempts int, d time.Duration) {
	if r == nil {
		return
	}
	r.runsFinished.WithLabelValues(mode, outcome, reason).Inc()
	r.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
	r.runAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

// Deliver implements events.Sink, counting build health signals as they are
// published.
func (r *Recorder) Deliver(ev events.Event) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case events.KindBuildStatus:
		r.buildReports.WithLabelValues(ev.Status).Inc()
	case events.KindPulseStatus:
		if ev.Status == events.PulseHealing {
			r.healingPulses.Inc()
		}
	case events.KindAlert:
		if ev.Status == events.AlertCircuitBreaker {
			r.circuitBreakerHit.Inc()
		}
	}
}
