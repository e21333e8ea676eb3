package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowrund",
		Name:      "runs_started_total",
		Help:      "Total number of runs created.",
	})

	runsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowrund",
		Name:      "runs_finished_total",
		Help:      "Total number of runs finished, by terminal status.",
	}, []string{"status"})

	runStartRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowrund",
		Name:      "run_start_rejected_total",
		Help:      "Run start requests rejected before persistence, by error code.",
	}, []string{"code"})
)
