package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitter_sessions_active",
		Help: "Number of loaded splitter sessions",
	})

	sessionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_sessions_opened_total",
		Help: "Total session open attempts by result",
	}, []string{"result"})

	// Packet pipeline metrics
	packetsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_packets_delivered_total",
		Help: "Total packets delivered to sinks",
	}, []string{"kind"})

	bytesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_bytes_delivered_total",
		Help: "Total payload bytes delivered to sinks",
	}, []string{"kind"})

	packetsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_packets_dropped_total",
		Help: "Total packets dropped before reaching a sink",
	}, []string{"reason"})

	readRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_read_retries_total",
		Help: "Total transient container reads that produced no unit",
	})

	quirksAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_quirks_applied_total",
		Help: "Total timestamp corrections applied by quirk",
	}, []string{"quirk"})

	// Control metrics
	seeksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_seeks_total",
		Help: "Total seek operations by result",
	}, []string{"result"})

	seekDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splitter_seek_duration_seconds",
		Help:    "Time from seek request to worker acknowledgement",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
	})

	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_flushes_total",
		Help: "Total flush barriers",
	})

	segmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_segments_total",
		Help: "Total new segment broadcasts",
	})

	endOfStreamTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_end_of_stream_total",
		Help: "Total end-of-stream broadcasts",
	})

	streamSelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_stream_selections_total",
		Help: "Total stream reassignments by kind and result",
	}, []string{"kind", "result"})

	workerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "splitter_workers",
		Help: "Number of demux workers in each state",
	}, []string{"state"})

	starvingSinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitter_starving_sinks",
		Help: "Number of sinks below the minimum queue depth",
	})

	sinkQueueDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splitter_sink_queue_depth",
		Help:    "Sink queue depth sampled by the session monitor",
		Buckets: prometheus.LinearBuckets(0, 25, 10),
	}, []string{"kind"})

	// Registry metrics
	registryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_registry_errors_total",
		Help: "Total session registry failures by operation",
	}, []string{"operation"})

	// Control API metrics
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splitter_http_request_duration_seconds",
		Help:    "Duration of control API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_http_requests_total",
		Help: "Total control API requests",
	}, []string{"method", "route", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitter_http_requests_in_flight",
		Help: "Control API requests currently being served",
	})

	httpRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_http_rate_limited_total",
		Help: "Total control API requests rejected by the rate limiter",
	})
)

// SetActiveSessions sets the number of loaded sessions
func SetActiveSessions(count int) {
	sessionsActive.Set(float64(count))
}

// RecordSessionOpen counts a session open attempt
func RecordSessionOpen(err error) {
	sessionsOpenedTotal.WithLabelValues(result(err)).Inc()
}

// RecordDelivered counts one packet handed to a sink
func RecordDelivered(kind string, bytes int) {
	packetsDeliveredTotal.WithLabelValues(kind).Inc()
	bytesDeliveredTotal.WithLabelValues(kind).Add(float64(bytes))
}

// RecordDropped counts one packet dropped before delivery
func RecordDropped(reason string) {
	packetsDroppedTotal.WithLabelValues(reason).Inc()
}

// IncrementReadRetries counts a transient empty read
func IncrementReadRetries() {
	readRetriesTotal.Inc()
}

// RecordQuirk counts one quirk correction
func RecordQuirk(name string) {
	quirksAppliedTotal.WithLabelValues(name).Inc()
}

// RecordSeek records the outcome and latency of a seek
func RecordSeek(err error, seconds float64) {
	seeksTotal.WithLabelValues(result(err)).Inc()
	seekDuration.Observe(seconds)
}

// IncrementFlushes counts a flush barrier
func IncrementFlushes() {
	flushesTotal.Inc()
}

// IncrementSegments counts a new segment broadcast
func IncrementSegments() {
	segmentsTotal.Inc()
}

// IncrementEndOfStream counts an end-of-stream broadcast
func IncrementEndOfStream() {
	endOfStreamTotal.Inc()
}

// RecordStreamSelection counts a stream reassignment
func RecordStreamSelection(kind string, err error) {
	streamSelectionsTotal.WithLabelValues(kind, result(err)).Inc()
}

// WorkerTransition moves one worker between state gauges. An empty from
// only increments, an empty to only decrements.
func WorkerTransition(from, to string) {
	if from != "" {
		workerState.WithLabelValues(from).Dec()
	}
	if to != "" {
		workerState.WithLabelValues(to).Inc()
	}
}

// SetStarvingSinks sets the number of starving sinks across sessions
func SetStarvingSinks(count int) {
	starvingSinks.Set(float64(count))
}

// ObserveQueueDepth samples a sink queue depth
func ObserveQueueDepth(kind string, depth int) {
	sinkQueueDepth.WithLabelValues(kind).Observe(float64(depth))
}

// IncrementRegistryError counts a session registry failure
func IncrementRegistryError(operation string) {
	registryErrorsTotal.WithLabelValues(operation).Inc()
}

// HTTPRequestStarted tracks an in-flight request; call the returned func
// when it completes
func HTTPRequestStarted() func() {
	httpRequestsInFlight.Inc()
	return httpRequestsInFlight.Dec
}

// RecordHTTPRequest records a completed control API request
func RecordHTTPRequest(method, route string, status int, seconds float64) {
	code := strconv.Itoa(status)
	httpRequestDuration.WithLabelValues(method, route, code).Observe(seconds)
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
}

// IncrementRateLimited counts a request rejected by the rate limiter
func IncrementRateLimited() {
	httpRateLimitedTotal.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
