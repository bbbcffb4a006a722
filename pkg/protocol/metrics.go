package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conceptgraph_protocol_requests_total",
		Help: "Total protocol requests served, by opcode and status code",
	}, []string{"op", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conceptgraph_protocol_request_duration_seconds",
		Help:    "Protocol request handling duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"op"})

	// replayedWrites counts writes answered from the idempotency table
	replayedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conceptgraph_protocol_replayed_writes_total",
		Help: "Total duplicate writes answered from the idempotency table",
	})

	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conceptgraph_protocol_open_connections",
		Help: "Currently open protocol connections",
	})
)
