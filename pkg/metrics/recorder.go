// Package metrics records build observability data. The default recorder
// does nothing; the Prometheus recorder can write a text exposition file
// when a build finishes.
package metrics

import "time"

// Outcome labels a finished build.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
	OutcomeUpToDate Outcome = "up_to_date"
)

// Recorder defines the hooks a build reports through.
type Recorder interface {
	ObserveTask(taskType, status string, d time.Duration)
	SetDamage(files, commands int)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome Outcome)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTask(string, string, time.Duration) {}
func (NoopRecorder) SetDamage(int, int)                        {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)        {}
func (NoopRecorder) IncBuildOutcome(Outcome)                   {}
