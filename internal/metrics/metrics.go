// Package metrics records a research run as Prometheus metrics and writes
// them to a textfile in the session directory.
//
// Each Recorder owns its registry, so concurrent runs in one process never
// share series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/ralph/internal/event"
)

// Recorder collects the metrics of one run.
type Recorder struct {
	registry *prometheus.Registry

	PhaseTransitions *prometheus.CounterVec
	Tasks            *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	Coverage         prometheus.Gauge
	Iterations       prometheus.Gauge
	Failures         *prometheus.CounterVec

	subs []string
	bus  *event.Bus
}

// New returns a Recorder with every collector registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		PhaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_phase_transitions_total",
				Help: "Phase transitions performed, by source and target phase",
			},
			[]string{"from", "to"},
		),
		Tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_tasks_total",
				Help: "Tasks collected by the execution loop, by kind and result status",
			},
			[]string{"kind", "status"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ralph_handler_duration_seconds",
				Help:    "Handler execution time in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"kind"},
		),
		Coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_coverage_percent",
			Help: "Overall coverage from the latest evaluation",
		}),
		Iterations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_iterations",
			Help: "Current execution iteration",
		}),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_session_failures_total",
				Help: "Sessions moved to failed, by error kind",
			},
			[]string{"kind"},
		),
	}
	r.registry.MustRegister(r.PhaseTransitions, r.Tasks, r.HandlerDuration, r.Coverage, r.Iterations, r.Failures)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Attach subscribes r to every event on bus. Detach undoes it.
func (r *Recorder) Attach(bus *event.Bus) {
	r.bus = bus
	r.subs = append(r.subs, bus.SubscribeAll(r.Observe))
}

// Detach removes the subscriptions made by Attach.
func (r *Recorder) Detach() {
	if r.bus == nil {
		return
	}
	for _, id := range r.subs {
		r.bus.Unsubscribe(id)
	}
	r.subs = nil
}

// Observe updates the collectors for one event.
func (r *Recorder) Observe(e event.Event) {
	switch ev := e.(type) {
	case event.PhaseChangedEvent:
		r.PhaseTransitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
		r.Iterations.Set(float64(ev.Iteration))
	case event.TaskCompletedEvent:
		r.Tasks.WithLabelValues(string(ev.Kind), string(ev.Status)).Inc()
		r.HandlerDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Duration.Seconds())
	case event.CoverageEvaluatedEvent:
		r.Coverage.Set(ev.Overall)
		r.Iterations.Set(float64(ev.Iteration))
	case event.SessionFailedEvent:
		r.Failures.WithLabelValues(ev.Kind).Inc()
	}
}

// WriteFile writes the current values in the text exposition format. The
// file is replaced atomically.
func (r *Recorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
