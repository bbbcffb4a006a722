package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	journalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conceptgraph_core_journal_errors_total",
		Help: "Failed persistence writes by journal operation",
	}, []string{"op"})

	decayedConcepts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conceptgraph_core_decayed_concepts_total",
		Help: "Concepts whose strength changed during maintenance",
	})

	prunedConcepts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conceptgraph_core_pruned_concepts_total",
		Help: "Concepts removed by maintenance",
	})
)
