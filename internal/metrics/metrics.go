// Package metrics exposes the sentinel's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/obsy-sentinel/internal/safety"
)

const namespace = "obsy_sentinel"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	condition       *prometheus.GaugeVec
	decisions       *prometheus.CounterVec
	cycleErrors     prometheus.Counter
	cycleDuration   prometheus.Histogram
	weatherDebounce prometheus.Gauge
	stepAttempts    *prometheus.CounterVec
	stepFailures    *prometheus.CounterVec
	shutdownResults *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	parkDrift       prometheus.Gauge
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		condition: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "condition",
			Help:      "Latest safety condition: 1 true, 0 false, -1 unknown.",
		}, []string{"condition"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Control loop decisions by action.",
		}, []string{"action"}),
		cycleErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Control cycles that ended in an error or panic.",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time taken to evaluate safety and act on it.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		weatherDebounce: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weather_debounce_count",
			Help:      "Consecutive unsafe weather readings.",
		}),
		stepAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "step_attempts_total",
			Help:      "Shutdown step attempts by step.",
		}, []string{"step"}),
		stepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "step_failures_total",
			Help:      "Shutdown steps that exhausted their attempts.",
		}, []string{"step"}),
		shutdownResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "runs_total",
			Help:      "Shutdown sequences by result.",
		}, []string{"result"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts sent by result.",
		}, []string{"result"}),
		parkDrift: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "parkmon",
			Name:      "drift_degrees",
			Help:      "Latest angular distance of the parked mount from its park position.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func triValue(t safety.Tri) float64 {
	switch t {
	case safety.True:
		return 1
	case safety.False:
		return 0
	default:
		return -1
	}
}

// ObserveStatus records each condition of st.
func (m *Metrics) ObserveStatus(st safety.Status) {
	m.condition.WithLabelValues("weather_safe").Set(triValue(st.WeatherSafe))
	m.condition.WithLabelValues("roof_closed").Set(triValue(st.RoofClosed))
	m.condition.WithLabelValues("mount_parked").Set(triValue(st.MountParked))
	m.condition.WithLabelValues("cap_closed").Set(triValue(st.CapClosed))
	m.condition.WithLabelValues("camera_warm").Set(triValue(st.CameraWarm))
}

// ObserveDecision records one cycle's action, duration and weather debounce count.
func (m *Metrics) ObserveDecision(action string, d time.Duration, weatherDebounce uint) {
	m.decisions.WithLabelValues(action).Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.weatherDebounce.Set(float64(weatherDebounce))
}

// CycleError counts a failed cycle.
func (m *Metrics) CycleError() { m.cycleErrors.Inc() }

// ObserveStep records a finished shutdown step.
func (m *Metrics) ObserveStep(step string, attempts int, succeeded, skipped bool) {
	if skipped {
		return
	}
	m.stepAttempts.WithLabelValues(step).Add(float64(attempts))
	if !succeeded {
		m.stepFailures.WithLabelValues(step).Inc()
	}
}

// ObserveShutdown records the result of a whole sequence.
func (m *Metrics) ObserveShutdown(completed bool) {
	if completed {
		m.shutdownResults.WithLabelValues("completed").Inc()
		return
	}
	m.shutdownResults.WithLabelValues("aborted").Inc()
}

// ObserveAlert records an alert delivery outcome.
func (m *Metrics) ObserveAlert(err error) {
	if err != nil {
		m.alerts.WithLabelValues("failed").Inc()
		return
	}
	m.alerts.WithLabelValues("sent").Inc()
}

// ObserveParkDrift records the park monitor's latest drift.
func (m *Metrics) ObserveParkDrift(deg float64) { m.parkDrift.Set(deg) }
