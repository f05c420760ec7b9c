package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gleaner",
		Name:      "cache_pages_total",
		Help:      "Cached page writes by content outcome (new, changed, unchanged).",
	}, []string{"outcome"})

	summariesReused = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gleaner",
		Name:      "cache_summaries_reused_total",
		Help:      "Summaries copied from a page with identical content.",
	})
)
