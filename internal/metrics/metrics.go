package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unknownRoute = "unknown"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohort_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cohort_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cohort_store_latency_seconds",
		Help:    "Histogram of message store operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	storeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohort_store_failures_total",
		Help: "Total number of failed message store operations.",
	}, []string{"operation"})

	messagesStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohort_messages_stored_total",
		Help: "Total number of collaboration messages persisted.",
	}, []string{"event_type"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohort_events_dropped_total",
		Help: "Total number of change events dropped before persistence.",
	}, []string{"reason"})

	activityLogItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cohort_activity_log_items_total",
		Help: "Total number of activity log items returned to callers.",
	})

	controllerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohort_controller_transitions_total",
		Help: "Total number of collaboration controller state transitions.",
	}, []string{"from", "to"})
)

// Middleware records request counts and latencies labelled by the matched gin route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unknownRoute
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, route).Inc()
		httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStoreLatency records the latency of a store operation started at start.
func ObserveStoreLatency(operation string, start time.Time) {
	storeLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncStoreFailure counts a failed store operation.
func IncStoreFailure(operation string) {
	storeFailuresTotal.WithLabelValues(operation).Inc()
}

// IncMessageStored counts a persisted message by event type.
func IncMessageStored(eventType string) {
	messagesStoredTotal.WithLabelValues(eventType).Inc()
}

// IncEventDropped counts a change event that never reached the store.
func IncEventDropped(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// AddActivityLogItems counts items returned from activity log queries.
func AddActivityLogItems(count int) {
	if count <= 0 {
		return
	}
	activityLogItemsTotal.Add(float64(count))
}

// IncControllerTransition counts a controller state change.
func IncControllerTransition(from, to string) {
	controllerTransitionsTotal.WithLabelValues(from, to).Inc()
}
