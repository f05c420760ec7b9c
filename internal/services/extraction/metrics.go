package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_extraction_calls_total",
		Help: "Extraction backend calls by pass and outcome.",
	}, []string{"pass", "outcome"})

	enrichOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_enrichment_total",
		Help: "Enrichment loops by how they ended: answered, exhausted, timeout, error or malformed.",
	}, []string{"outcome"})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_enrichment_tool_calls_total",
		Help: "Enrichment tool executions by tool and outcome.",
	}, []string{"tool", "outcome"})

	candidatesPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gleaner_extraction_candidates",
		Help:    "Post candidates produced per extraction run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})
)
