package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_discovery_queries_total",
		Help: "Discovery queries by outcome.",
	}, []string{"outcome"})

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_discovery_results_total",
		Help: "Search results seen by discovery, by outcome (created, known, rejected, social_disabled).",
	}, []string{"outcome"})
)
