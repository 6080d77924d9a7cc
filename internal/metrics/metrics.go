// Package metrics exposes the Prometheus collectors for a run: phase
// duration, row counts, dropped rows, peak RSS, and a run-info gauge
// carrying the identity of the most recent run as labels.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns one private prometheus.Registry so a process embedding
// this module can expose it on its own /metrics route without colliding
// with the default global registry.
type Registry struct {
	reg *prometheus.Registry

	phaseDuration *prometheus.HistogramVec
	rowsTotal     *prometheus.CounterVec
	rowsDropped   *prometheus.CounterVec
	peakRSSBytes  prometheus.Gauge
	runInfo       *prometheus.GaugeVec
}

// New registers and returns a Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ocpaggregator_phase_duration_seconds",
			Help:    "Duration of each aggregation run phase.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"phase", "outcome"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpaggregator_rows_total",
			Help: "Output rows written, by data source.",
		}, []string{"data_source"}),
		rowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpaggregator_rows_dropped_total",
			Help: "Input rows skipped during aggregation, by reason.",
		}, []string{"reason"}),
		peakRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocpaggregator_peak_rss_bytes",
			Help: "Peak resident set size observed during the most recent run.",
		}),
		runInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ocpaggregator_run_info",
			Help: "Metadata about the most recent run; value is always 1.",
		}, []string{"source_uuid", "year", "month"}),
	}

	reg.MustRegister(m.phaseDuration, m.rowsTotal, m.rowsDropped, m.peakRSSBytes, m.runInfo)
	return m
}

// Registerer exposes the underlying registry as a prometheus.Gatherer for
// an HTTP handler to attach a promhttp.Handler to.
func (m *Registry) Registerer() prometheus.Gatherer {
	return m.reg
}

// PhaseTimer tracks one phase's wall-clock duration.
type PhaseTimer struct {
	metrics *Registry
	phase   string
	start   time.Time
}

// StartPhase begins timing phase.
func (m *Registry) StartPhase(phase string) *PhaseTimer {
	return &PhaseTimer{metrics: m, phase: phase, start: time.Now()}
}

// Observe records a successful completion.
func (t *PhaseTimer) Observe() {
	t.metrics.phaseDuration.WithLabelValues(t.phase, "success").Observe(time.Since(t.start).Seconds())
	t.metrics.recordPeakRSS()
}

// ObserveError records a failed completion.
func (t *PhaseTimer) ObserveError() {
	t.metrics.phaseDuration.WithLabelValues(t.phase, "error").Observe(time.Since(t.start).Seconds())
	t.metrics.recordPeakRSS()
}

// ObserveRows increments the row counter under the data_source label "all".
func (m *Registry) ObserveRows(n int) {
	m.rowsTotal.WithLabelValues("all").Add(float64(n))
}

// ObserveRowsBySource increments the row counter for a specific source.
func (m *Registry) ObserveRowsBySource(source string, n int) {
	m.rowsTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveDropped records rows skipped during aggregation (e.g. a negative
// or non-finite metric value), tagged with why they were dropped.
func (m *Registry) ObserveDropped(reason string, n int) {
	m.rowsDropped.WithLabelValues(reason).Add(float64(n))
}

// SetRunInfo publishes the identity of the most recent run.
func (m *Registry) SetRunInfo(sourceUUID, year, month string) {
	m.runInfo.Reset()
	m.runInfo.WithLabelValues(sourceUUID, year, month).Set(1)
}

func (m *Registry) recordPeakRSS() {
	var rs runtime.MemStats
	runtime.ReadMemStats(&rs)
	m.peakRSSBytes.Set(float64(rs.Sys))
}
