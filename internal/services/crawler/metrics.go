package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gleaner",
		Name:      "crawler_pages_fetched_total",
		Help:      "Page fetches by outcome (ok, network, blocked, invalid_url).",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gleaner",
		Name:      "crawler_fetch_duration_seconds",
		Help:      "Duration of a single page fetch including in-fetch retries.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	crawlRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gleaner",
		Name:      "crawler_runs_total",
		Help:      "Website crawl runs by outcome.",
	}, []string{"outcome"})
)
