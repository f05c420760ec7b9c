package summary

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	summariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gleaner",
		Name:      "summaries_total",
		Help:      "Summary requests by outcome (generated, reused, skipped).",
	}, []string{"outcome"})

	summaryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gleaner",
		Name:      "summary_generation_seconds",
		Help:      "Time spent summarizing and embedding one page.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)
