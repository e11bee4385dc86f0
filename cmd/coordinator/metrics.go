package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeEmpty   = "empty"
	outcomeError   = "error"
	outcomeAuth    = "auth"
)

var (
	chunkOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epias_coordinator_chunks_total",
		Help: "Chunk fetch attempts by outcome.",
	}, []string{"outcome"})

	chunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "epias_coordinator_chunk_duration_seconds",
		Help:    "Time spent fetching one chunk, pagination included.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	runningJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epias_coordinator_running_jobs",
		Help: "Jobs with an active run loop.",
	})

	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epias_coordinator_dropped_events_total",
		Help: "Progress events not delivered to a slow subscriber.",
	})
)
