package simulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	simulationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_simulations_started_total",
		Help: "Simulations replayed and left active",
	})

	simulationsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_simulations_committed_total",
		Help: "Simulations made permanent",
	})

	simulationsRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_simulations_rolled_back_total",
		Help: "Simulations discarded",
	})
)
