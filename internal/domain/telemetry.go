package domain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("autocov.domain")

// Metrics definitions
var (
	CoverageRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autocov_coverage_ratio",
		Help: "Overall line coverage ratio of the last measurement.",
	})

	IterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocov_iterations_total",
		Help: "Completed iterations by whether coverage improved.",
	}, []string{"gained"})

	CandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocov_candidates_total",
		Help: "Validated candidates by outcome (accepted or rejection reason).",
	}, []string{"outcome"})

	GenerationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autocov_generation_failures_total",
		Help: "Targets for which the generation backend produced nothing usable.",
	})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autocov_phase_seconds",
		Help:    "Time spent per controller phase.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"phase"})

	GraphTargets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autocov_graph_targets",
		Help: "Targets in the last uncovered-region graph.",
	})
)
