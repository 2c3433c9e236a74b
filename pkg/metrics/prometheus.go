// Package metrics provides Prometheus metrics for the goalboard sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector used by the client.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Stream metrics - what arrives over the WebSocket and what it does to the store
	framesReceived prometheus.Counter
	eventsApplied  *prometheus.CounterVec
	eventsUnknown  prometheus.Counter
	decodeErrors   prometheus.Counter
	eventsReplayed prometheus.Counter
	replayOverflow prometheus.Counter

	// Store metrics
	storeGoals prometheus.Gauge

	// Connection metrics
	connectionState   prometheus.Gauge
	reconnectAttempts prometheus.Counter
	sendsDropped      prometheus.Counter
	framesSent        prometheus.Counter

	// Snapshot metrics
	snapshotLoads    prometheus.Counter
	snapshotFailures prometheus.Counter
	snapshotLatency  prometheus.Histogram
	snapshotLastUnix prometheus.Gauge

	// Upstream API client metrics
	clientRequests *prometheus.CounterVec
	clientLatency  *prometheus.HistogramVec

	// Local HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueEnqueueErrs prometheus.Counter

	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "goalboard",
		subsystem:        "sync",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.framesReceived = m.counter("frames_received_total", "Inbound WebSocket text frames")
	m.eventsApplied = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_applied_total",
		Help:        "Change events applied to the goal store by event type",
		ConstLabels: m.constLabels,
	}, []string{"type"})
	m.eventsUnknown = m.counter("events_unknown_total", "Events with an unrecognized type (ignored)")
	m.decodeErrors = m.counter("decode_errors_total", "Inbound frames that could not be decoded")
	m.eventsReplayed = m.counter("events_replayed_total", "Events re-applied after a snapshot bulk load")
	m.replayOverflow = m.counter("replay_overflow_total", "Snapshot windows abandoned because the replay log overflowed")

	m.storeGoals = m.gauge("store_goals", "Goals currently held in the local store")

	m.connectionState = m.gauge("connection_state", "0=connecting 1=connected 2=disconnected")
	m.reconnectAttempts = m.counter("reconnect_attempts_total", "Scheduled reconnect attempts")
	m.sendsDropped = m.counter("sends_dropped_total", "Outbound payloads dropped while not connected")
	m.framesSent = m.counter("frames_sent_total", "Outbound frames written")

	m.snapshotLoads = m.counter("snapshot_loads_total", "Snapshots applied to the store")
	m.snapshotFailures = m.counter("snapshot_failures_total", "Snapshot fetches that failed")
	m.snapshotLatency = m.histogram("snapshot_latency_milliseconds", "Snapshot fetch latency in milliseconds")
	m.snapshotLastUnix = m.gauge("snapshot_last_unixtime", "Unix time of the last applied snapshot")

	m.clientRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "client_requests_total",
		Help:        "Requests made to the goal service by operation and outcome",
		ConstLabels: m.constLabels,
	}, []string{"operation", "outcome"})
	m.clientLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "client_request_duration_milliseconds",
		Help:        "Goal service request latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"operation"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Local API requests by endpoint, method and status",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "Local API request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.queueSize = m.gauge("queue_size", "Inbound items waiting for the dispatcher")
	m.queueCapacity = m.gauge("queue_capacity", "Inbound queue capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Items put on the inbound queue")
	m.queueDequeued = m.counter("queue_dequeued_total", "Items taken off the inbound queue")
	m.queueEnqueueErrs = m.counter("queue_enqueue_errors_total", "Failed enqueue attempts")

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "errors_total",
		Help:        "Errors by component and kind",
		ConstLabels: m.constLabels,
	}, []string{"component", "kind"})
}

// Stream.

// RecordFrameReceived counts one inbound frame.
func RecordFrameReceived() { globalManager.framesReceived.Inc() }

// RecordEventApplied counts an applied event of the given type.
func RecordEventApplied(eventType string) { globalManager.eventsApplied.WithLabelValues(eventType).Inc() }

// RecordEventUnknown counts an ignored event.
func RecordEventUnknown() { globalManager.eventsUnknown.Inc() }

// RecordDecodeError counts a frame that failed to decode.
func RecordDecodeError() { globalManager.decodeErrors.Inc() }

// RecordEventsReplayed adds n replayed events.
func RecordEventsReplayed(n int) { globalManager.eventsReplayed.Add(float64(n)) }

// RecordReplayOverflow counts an abandoned snapshot window.
func RecordReplayOverflow() { globalManager.replayOverflow.Inc() }

// Store.

// UpdateStoreGoals sets the goal count gauge.
func UpdateStoreGoals(n int) { globalManager.storeGoals.Set(float64(n)) }

// Connection.

// UpdateConnectionState sets the connection state gauge.
func UpdateConnectionState(state int) { globalManager.connectionState.Set(float64(state)) }

// RecordReconnectAttempt counts a scheduled reconnect.
func RecordReconnectAttempt() { globalManager.reconnectAttempts.Inc() }

// RecordSendDropped counts a dropped outbound payload.
func RecordSendDropped() { globalManager.sendsDropped.Inc() }

// RecordFrameSent counts a written outbound frame.
func RecordFrameSent() { globalManager.framesSent.Inc() }

// Snapshot.

// RecordSnapshotLoad counts an applied snapshot and stamps its time.
func RecordSnapshotLoad(unix int64) {
	globalManager.snapshotLoads.Inc()
	globalManager.snapshotLastUnix.Set(float64(unix))
}

// RecordSnapshotFailure counts a failed snapshot fetch.
func RecordSnapshotFailure() { globalManager.snapshotFailures.Inc() }

// RecordSnapshotLatency records snapshot fetch latency.
func RecordSnapshotLatency(latencyMs float64) { globalManager.snapshotLatency.Observe(latencyMs) }

// Upstream client.

// RecordClientRequest records one goal service request.
func RecordClientRequest(operation, outcome string, latencyMs float64) {
	globalManager.clientRequests.WithLabelValues(operation, outcome).Inc()
	globalManager.clientLatency.WithLabelValues(operation).Observe(latencyMs)
}

// Local HTTP.

// RecordHTTPRequest records a local API request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records local API request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrs.Inc() }

// RecordErrorByComponent records an error with component and kind labels.
func RecordErrorByComponent(component, kind string) {
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
