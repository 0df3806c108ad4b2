package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveTask("cxx", "ok", 150*time.Millisecond)
	pr.ObserveTask("cmd", "failed", 10*time.Millisecond)
	pr.SetDamage(3, 5)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncBuildOutcome(OutcomeFailed)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"ambuild_task_duration_seconds",
		"ambuild_task_results_total",
		"ambuild_damaged_files",
		"ambuild_dirty_commands",
		"ambuild_build_outcomes_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestWriteFile(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.ObserveTask("cxx", "ok", time.Second)
	pr.IncBuildOutcome(OutcomeSuccess)

	path := filepath.Join(t.TempDir(), "ambuild.prom")
	if err := pr.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `ambuild_build_outcomes_total{outcome="success"} 1`) {
		t.Errorf("exposition missing outcome:\n%s", data)
	}
}

func TestNilRecorder(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveTask("cxx", "ok", time.Second)
	pr.SetDamage(1, 1)
	pr.ObserveBuildDuration(time.Second)
	pr.IncBuildOutcome(OutcomeCanceled)

	var r Recorder = NoopRecorder{}
	r.ObserveTask("cmd", "ok", 0)
	r.SetDamage(0, 0)
}
