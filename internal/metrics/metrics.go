package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	firingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_firings_total",
			Help: "Total number of trigger firings by final ledger status",
		},
		[]string{"status"},
	)

	firingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nudge_firing_duration_seconds",
			Help:    "Time from claiming a due trigger to recording its outcome",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	firingLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nudge_firing_lag_seconds",
			Help:    "Delay between a trigger's scheduled time and its firing",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_deliveries_total",
			Help: "Total number of reminder deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	downstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_downstream_errors_total",
			Help: "Total number of failed calls to the internal platform API",
		},
		[]string{"call"},
	)

	claimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nudge_claim_conflicts_total",
			Help: "Due triggers another worker claimed first",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

func RecordFiring(status string, duration time.Duration) {
	firingsTotal.WithLabelValues(status).Inc()
	firingDuration.Observe(duration.Seconds())
}

func ObserveFiringLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	firingLag.Observe(lag.Seconds())
}

func RecordDelivery(channel, outcome string) {
	deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

func RecordDownstreamError(call string) {
	downstreamErrors.WithLabelValues(call).Inc()
}

func RecordClaimConflict() {
	claimConflicts.Inc()
}

func NormalizePath(path string) string {
	if len(path) > 100 {
		path = path[:100]
	}

	normalized := ""
	inParam := false
	for i := 0; i < len(path); i++ {
		if path[i] == '{' {
			inParam = true
			normalized += ":"
			continue
		}
		if path[i] == '}' {
			inParam = false
			continue
		}
		if !inParam {
			normalized += string(path[i])
		}
	}
	return normalized
}
