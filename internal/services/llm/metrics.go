package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gleaner",
		Name:      "ai_calls_total",
		Help:      "AI backend calls by provider, operation and outcome.",
	}, []string{"provider", "operation", "outcome"})

	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gleaner",
		Name:      "ai_call_duration_seconds",
		Help:      "AI backend call latency by provider and operation.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"provider", "operation"})
)

func observeCall(provider ProviderType, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	aiCalls.WithLabelValues(string(provider), op, outcome).Inc()
	aiDuration.WithLabelValues(string(provider), op).Observe(time.Since(start).Seconds())
}
