package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_search_requests_total",
		Help: "Web searches by outcome.",
	}, []string{"outcome"})

	searchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gleaner_search_results",
		Help:    "Results returned per web search after filtering.",
		Buckets: prometheus.LinearBuckets(0, 2, 11),
	})
)
