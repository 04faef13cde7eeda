// SPDX-License-Identifier: MPL-2.0

package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeBuilt marks a step that ran.
	OutcomeBuilt = "built"
	// OutcomeCached marks a step reused from the cache.
	OutcomeCached = "cached"
	// OutcomeFailed marks a step or build that failed.
	OutcomeFailed = "failed"
	// OutcomeOK marks a build whose artifact was tagged.
	OutcomeOK = "ok"
)

// BuildBuckets spans cached steps (sub-second) to cold package installs.
var BuildBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

var (
	// Registry holds every envprov metric. It is separate from the default
	// registry so that textfile output contains only build metrics.
	Registry = prometheus.NewRegistry()

	// StepsTotal counts provisioning steps by kind and outcome.
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envprov_steps_total",
			Help: "Provisioning steps",
		},
		[]string{"kind", "outcome"},
	)

	// StepDuration records step duration in seconds by kind.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envprov_step_duration_seconds",
			Help:    "Provisioning step duration",
			Buckets: BuildBuckets,
		},
		[]string{"kind"},
	)

	// BuildsTotal counts recipe builds by recipe name and outcome.
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envprov_builds_total",
			Help: "Recipe builds",
		},
		[]string{"recipe", "outcome"},
	)

	// BuildDuration records whole-build duration in seconds by recipe name.
	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envprov_build_duration_seconds",
			Help:    "Recipe build duration",
			Buckets: BuildBuckets,
		},
		[]string{"recipe"},
	)

	// BuildsInFlight tracks builds currently running.
	BuildsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envprov_builds_in_flight",
			Help: "Builds in progress",
		},
	)
)

func init() {
	Registry.MustRegister(
		StepsTotal,
		StepDuration,
		BuildsTotal,
		BuildDuration,
		BuildsInFlight,
	)
}

// ObserveStep records one finished step.
func ObserveStep(kind, outcome string, d time.Duration) {
	StepsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeCached {
		StepDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveBuild records one finished build.
func ObserveBuild(recipe, outcome string, d time.Duration) {
	BuildsTotal.WithLabelValues(recipe, outcome).Inc()
	BuildDuration.WithLabelValues(recipe).Observe(d.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile collector
// format. The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
