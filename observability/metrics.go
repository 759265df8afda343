package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Session metrics
	SessionsStartedTotal *prometheus.CounterVec
	SessionOutcomesTotal *prometheus.CounterVec
	SessionDuration      *prometheus.HistogramVec
	ActiveStreams        prometheus.Gauge

	// Stream metrics
	EventsFoldedTotal    *prometheus.CounterVec
	MalformedFramesTotal *prometheus.CounterVec
	StaleEventsTotal     *prometheus.CounterVec
	HeartbeatsTotal      *prometheus.CounterVec
	TimeToFirstEvent     *prometheus.HistogramVec

	// Agent metrics
	AgentOutcomesTotal *prometheus.CounterVec
	AgentLatency       *prometheus.HistogramVec

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

const namespace = "stream_analyst"

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// sessionBuckets cover whole analysis runs, which take seconds to minutes
var sessionBuckets = []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// globalMetrics is the global metrics instance
var (
	globalMetrics *Metrics
	metricsMu     sync.Mutex
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		// Session metrics
		SessionsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "started_total",
				Help:      "Total number of analysis sessions started",
			},
			[]string{"protocol"},
		),
		SessionOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "outcomes_total",
				Help:      "Total number of finished analysis sessions by outcome",
			},
			[]string{"protocol", "outcome"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "duration_seconds",
				Help:      "Duration of analysis sessions in seconds",
				Buckets:   sessionBuckets,
			},
			[]string{"protocol", "outcome"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "active_streams",
				Help:      "Number of open analysis event streams",
			},
		),

		// Stream metrics
		EventsFoldedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "events_total",
				Help:      "Total number of stream events applied to a session",
			},
			[]string{"protocol", "type"},
		),
		MalformedFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "malformed_frames_total",
				Help:      "Total number of stream frames dropped because they could not be decoded",
			},
			[]string{"protocol"},
		),
		StaleEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "stale_events_total",
				Help:      "Total number of events dropped because they belonged to a superseded run",
			},
			[]string{"protocol"},
		),
		HeartbeatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "heartbeats_total",
				Help:      "Total number of keep-alive frames received",
			},
			[]string{"protocol"},
		),
		TimeToFirstEvent: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "time_to_first_event_seconds",
				Help:      "Time from stream open request to the first decoded event",
				Buckets:   defaultBuckets,
			},
			[]string{"protocol"},
		),

		// Agent metrics
		AgentOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "outcomes_total",
				Help:      "Total number of agent outcomes reported by the analysis stream",
			},
			[]string{"agent", "outcome"},
		),
		AgentLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "latency_seconds",
				Help:      "Agent latency as reported by the analysis backend",
				Buckets:   defaultBuckets,
			},
			[]string{"agent"},
		),

		// External API metrics
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"service", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"service"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = NewMetrics(nil)
	}
	return globalMetrics
}

// SetMetrics replaces the global metrics instance, mainly for tests
func SetMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// RecordSessionStart records a new analysis run and an open stream
func (m *Metrics) RecordSessionStart(protocol string) {
	m.SessionsStartedTotal.WithLabelValues(protocol).Inc()
	m.ActiveStreams.Inc()
}

// RecordSessionEnd records how a run ended and releases its stream slot
func (m *Metrics) RecordSessionEnd(protocol, outcome string, duration time.Duration) {
	m.SessionOutcomesTotal.WithLabelValues(protocol, outcome).Inc()
	m.SessionDuration.WithLabelValues(protocol, outcome).Observe(duration.Seconds())
	m.ActiveStreams.Dec()
}

// RecordEvent records an event applied to a live session
func (m *Metrics) RecordEvent(protocol, eventType string) {
	m.EventsFoldedTotal.WithLabelValues(protocol, eventType).Inc()
}

// RecordMalformedFrames records frames the decoder dropped
func (m *Metrics) RecordMalformedFrames(protocol string, n int) {
	if n <= 0 {
		return
	}
	m.MalformedFramesTotal.WithLabelValues(protocol).Add(float64(n))
}

// RecordStaleEvent records an event that arrived for a superseded run
func (m *Metrics) RecordStaleEvent(protocol string) {
	m.StaleEventsTotal.WithLabelValues(protocol).Inc()
}

// RecordHeartbeats records keep-alive frames skipped by the decoder
func (m *Metrics) RecordHeartbeats(protocol string, n int) {
	if n <= 0 {
		return
	}
	m.HeartbeatsTotal.WithLabelValues(protocol).Add(float64(n))
}

// RecordTimeToFirstEvent records how long the backend took to produce its first event
func (m *Metrics) RecordTimeToFirstEvent(protocol string, duration time.Duration) {
	m.TimeToFirstEvent.WithLabelValues(protocol).Observe(duration.Seconds())
}

// RecordAgentOutcome records an agent finishing, with its backend-reported latency if known
func (m *Metrics) RecordAgentOutcome(agent, outcome string, latencyMs *int64) {
	m.AgentOutcomesTotal.WithLabelValues(agent, outcome).Inc()
	if latencyMs != nil {
		m.AgentLatency.WithLabelValues(agent).Observe(float64(*latencyMs) / 1000)
	}
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError records an external API error
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordExternalAPIDuration records the duration of an external API call
func (m *Metrics) RecordExternalAPIDuration(service, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveSession records the session outcome and duration
func (t *Timer) ObserveSession(protocol, outcome string) {
	t.metrics.RecordSessionEnd(protocol, outcome, time.Since(t.start))
}

// ObserveFirstEvent records the time to first event
func (t *Timer) ObserveFirstEvent(protocol string) {
	t.metrics.RecordTimeToFirstEvent(protocol, time.Since(t.start))
}

// ObserveExternalAPI records the external API duration
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.RecordExternalAPIDuration(service, operation, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
