package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "ambuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg           *prom.Registry
	taskDuration  *prom.HistogramVec
	taskResults   *prom.CounterVec
	damagedFiles  prom.Gauge
	dirtyCommands prom.Gauge
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
}

// NewPrometheusRecorder constructs metrics and registers them with reg, or
// with a fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: Namespace,
		Name:      "task_duration_seconds",
		Help:      "Duration of individual build tasks",
		Buckets:   prom.DefBuckets,
	}, []string{"type"})
	pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: Namespace,
		Name:      "task_results_total",
		Help:      "Task results by type and status",
	}, []string{"type", "status"})
	pr.damagedFiles = prom.NewGauge(prom.GaugeOpts{
		Namespace: Namespace,
		Name:      "damaged_files",
		Help:      "Changed or missing files found by the last damage computation",
	})
	pr.dirtyCommands = prom.NewGauge(prom.GaugeOpts{
		Namespace: Namespace,
		Name:      "dirty_commands",
		Help:      "Commands scheduled by the last build",
	})
	pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: Namespace,
		Name:      "build_duration_seconds",
		Help:      "Total build duration",
		Buckets:   prom.DefBuckets,
	})
	pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: Namespace,
		Name:      "build_outcomes_total",
		Help:      "Build outcomes by final status",
	}, []string{"outcome"})
	reg.MustRegister(pr.taskDuration, pr.taskResults, pr.damagedFiles, pr.dirtyCommands, pr.buildDuration, pr.buildOutcome)
	return pr
}

// Registry returns the registry the metrics live in.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.reg
}

func (p *PrometheusRecorder) ObserveTask(taskType, status string, d time.Duration) {
	if p == nil || p.taskDuration == nil {
		return
	}
	p.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
	p.taskResults.WithLabelValues(taskType, status).Inc()
}

func (p *PrometheusRecorder) SetDamage(files, commands int) {
	if p == nil || p.damagedFiles == nil {
		return
	}
	p.damagedFiles.Set(float64(files))
	p.dirtyCommands.Set(float64(commands))
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome Outcome) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

// WriteFile writes every registered metric to path in the text exposition
// format, replacing the file atomically.
func (p *PrometheusRecorder) WriteFile(path string) error {
	return prom.WriteToTextfile(path, p.reg)
}
