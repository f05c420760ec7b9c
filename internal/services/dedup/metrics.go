package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	judgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_dedup_judge_calls_total",
		Help: "Equivalence judgments by tier (intra_run, cross_run, cleanup) and verdict.",
	}, []string{"tier", "verdict"})

	proposalsStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_proposals_staged_total",
		Help: "Sync proposals staged by kind.",
	}, []string{"kind"})

	proposalsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_proposals_decided_total",
		Help: "Sync proposals decided by kind and status.",
	}, []string{"kind", "status"})
)
