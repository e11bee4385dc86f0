package epias

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	endpointAuth   = "auth"
	endpointData   = "injection_quantity"
	endpointPlants = "powerplant_list"
	endpointUEVCB  = "uevcb_list"
)

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epias_api_requests_total",
		Help: "Requests sent to the EPİAŞ platform by endpoint and status code.",
	}, []string{"endpoint", "code"})

	apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epias_api_request_duration_seconds",
		Help:    "Latency of EPİAŞ requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	recordsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epias_records_fetched_total",
		Help: "Generation records returned by the data endpoint.",
	})

	formatMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epias_format_mismatch_total",
		Help: "Responses whose envelope was not recognized.",
	}, []string{"endpoint"})
)

// observeRequest records one request. A zero code means the request failed
// before a response arrived.
func observeRequest(endpoint string, code int, elapsed time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	apiRequests.WithLabelValues(endpoint, label).Inc()
	apiDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
