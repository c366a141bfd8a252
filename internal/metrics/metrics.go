// Package metrics exposes Prometheus metrics for pipeline runs. Metrics
// implements executor.Observer so a run reports node outcomes as they
// happen.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/specialistvlad/remotebox/internal/executor"
)

// Metrics holds all Prometheus collectors of remotebox.
type Metrics struct {
	// Node execution metrics
	NodeExecutions *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	NodeAttempts   *prometheus.CounterVec
	NodesRunning   prometheus.Gauge

	// Probe metrics
	ProbeAttempts prometheus.Histogram

	// Run metrics
	Runs *prometheus.CounterVec
}

var _ executor.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		NodeExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotebox_node_executions_total",
				Help: "Total number of settled nodes by block type and final state",
			},
			[]string{"type", "state"},
		),
		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remotebox_node_duration_seconds",
				Help:    "Node execution duration in seconds, retries included",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		),
		NodeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotebox_node_attempts_total",
				Help: "Total number of action invocations by block type",
			},
			[]string{"type"},
		),
		NodesRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "remotebox_nodes_running",
				Help: "Number of nodes currently executing",
			},
		),
		ProbeAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "remotebox_probe_attempts",
				Help:    "Connection attempts a successful probe needed",
				Buckets: prometheus.LinearBuckets(1, 2, 10),
			},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotebox_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"status"},
		),
	}
}

// NewRegistry creates a registry with the remotebox collectors and the
// standard Go and process collectors.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg, NewMetrics(reg)
}

// HandlerFor returns an HTTP handler serving reg.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// NodeStarted implements executor.Observer.
func (m *Metrics) NodeStarted(_ context.Context, _ string) {
	m.NodesRunning.Inc()
}

// NodeFinished implements executor.Observer.
func (m *Metrics) NodeFinished(_ context.Context, name string, r executor.NodeResult) {
	typ := blockType(name)
	m.NodeExecutions.WithLabelValues(typ, r.State.String()).Inc()
	if r.Start.IsZero() {
		// Skipped before starting.
		return
	}
	m.NodesRunning.Dec()
	m.NodeAttempts.WithLabelValues(typ).Add(float64(r.Attempts))
	m.NodeDuration.WithLabelValues(typ).Observe(r.End.Sub(r.Start).Seconds())

	if typ == "probe" {
		if out, ok := r.Output.(map[string]string); ok {
			if n, err := strconv.Atoi(out["attempts"]); err == nil {
				m.ProbeAttempts.Observe(float64(n))
			}
		}
	}
}

// RunFinished counts a finished run.
func (m *Metrics) RunFinished(status executor.Status) {
	m.Runs.WithLabelValues(string(status)).Inc()
}

// blockType returns the leading segment of a node address.
func blockType(name string) string {
	typ, _, _ := strings.Cut(name, ".")
	return typ
}
