// SPDX-License-Identifier: MPL-2.0

package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsRegistered(t *testing.T) {
	ObserveStep("select-base", OutcomeBuilt, time.Second)
	ObserveBuild("registered", OutcomeOK, time.Second)

	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"envprov_steps_total":            false,
		"envprov_step_duration_seconds":  false,
		"envprov_builds_total":           false,
		"envprov_build_duration_seconds": false,
		"envprov_builds_in_flight":       false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in registry", name)
		}
	}
}

func TestObserveStep_CachedSkipsDuration(t *testing.T) {
	before := counterValue(t, StepsTotal, "set-workdir", OutcomeCached)

	var m dto.Metric
	if err := StepDuration.WithLabelValues("set-workdir").(prometheus.Histogram).Write(&m); err != nil {
		t.Fatal(err)
	}
	samplesBefore := m.GetHistogram().GetSampleCount()

	ObserveStep("set-workdir", OutcomeCached, 0)

	if got := counterValue(t, StepsTotal, "set-workdir", OutcomeCached); got != before+1 {
		t.Errorf("steps counter = %v, want %v", got, before+1)
	}
	m.Reset()
	if err := StepDuration.WithLabelValues("set-workdir").(prometheus.Histogram).Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.GetHistogram().GetSampleCount() != samplesBefore {
		t.Error("cached steps should not record a duration")
	}
}

func TestWriteTextfile(t *testing.T) {
	ObserveBuild("textfile", OutcomeFailed, 2*time.Second)

	path := filepath.Join(t.TempDir(), "envprov.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `envprov_builds_total{outcome="failed",recipe="textfile"} 1`) {
		t.Errorf("textfile missing build counter:\n%s", data)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if _, err := ParseLevel("debug"); err != nil {
		t.Errorf("ParseLevel(debug) error: %v", err)
	}
	if lvl, err := ParseLevel(""); err != nil || lvl.String() != "info" {
		t.Errorf("ParseLevel(\"\") = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
}
