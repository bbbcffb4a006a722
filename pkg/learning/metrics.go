package learning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// learnItems counts learned items by outcome: created, merged or failed
	learnItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conceptgraph_learn_items_total",
		Help: "Total learned items by outcome",
	}, []string{"outcome"})

	associationsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conceptgraph_learn_associations_total",
		Help: "Total associations inserted or merged by the learner, by type",
	}, []string{"type"})
)
