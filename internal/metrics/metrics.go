// Package metrics holds Prometheus instrumentation shared by the gordo client
// and the model server fixture.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Client side metrics
	ClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gordo_client_requests_total",
			Help: "Total number of HTTP requests sent to the model server",
		},
		[]string{"resource", "status_code"},
	)

	ClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gordo_client_request_duration_seconds",
			Help:    "Model server request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	PredictionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gordo_client_prediction_retries_total",
			Help: "Total number of retried prediction requests",
		},
		[]string{"machine"},
	)

	PredictionRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gordo_client_prediction_rows_total",
			Help: "Total number of prediction rows received",
		},
		[]string{"machine"},
	)

	RevisionUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gordo_client_revision_updates_total",
			Help: "Number of times the client followed a newer server revision",
		},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gordo_cache_requests_total",
			Help: "Total number of metadata cache requests",
		},
		[]string{"operation", "result"}, // get/set, hit/miss/error/success
	)

	// Server side metrics
	ServerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gordo_server_http_requests_total",
			Help: "Total number of HTTP requests processed by the model server",
		},
		[]string{"method", "status_code"},
	)

	ServerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gordo_server_http_request_duration_seconds",
			Help:    "Model server HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// RecordClientRequest records single client request outcome
func RecordClientRequest(resource string, status int, start time.Time) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	ClientRequestsTotal.WithLabelValues(resource, code).Inc()
	ClientRequestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
}

// RecordServerRequest records single server request outcome
func RecordServerRequest(method string, status int, start time.Time) {
	ServerRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	ServerRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// RecordCacheOperation records cache operation result
func RecordCacheOperation(operation, result string) {
	CacheRequestsTotal.WithLabelValues(operation, result).Inc()
}
