package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Pickup and resolve outcome labels.
const (
	OutcomeSuccess          = "success"
	OutcomeAlreadyAssigned  = "already_assigned"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeNotFound         = "not_found"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeAlreadyResolved  = "already_resolved"
)

// Collector holds all Prometheus instruments for the service.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Handoff lifecycle metrics
	handoffsCreated  *prometheus.CounterVec
	pickupsTotal     *prometheus.CounterVec
	resolvesTotal    *prometheus.CounterVec
	handoffsExpired  *prometheus.CounterVec
	pendingDepth     *prometheus.GaugeVec
	pickupWait       *prometheus.HistogramVec
	handlingDuration *prometheus.HistogramVec

	// Relay metrics
	messagesAppended *prometheus.CounterVec

	// Escalation metrics
	escalationsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec

	// Database metrics
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default registerer.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer creates a collector on a specific registerer.
// Tests use a fresh registry to avoid duplicate registration panics.
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.handoffsCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_created_total",
			Help:      "Total number of handoff requests created",
		},
		[]string{"tenant"},
	)

	c.pickupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pickups_total",
			Help:      "Total number of pickup attempts by outcome",
		},
		[]string{"tenant", "outcome"},
	)

	c.resolvesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Total number of resolve attempts by outcome",
		},
		[]string{"tenant", "outcome"},
	)

	c.handoffsExpired = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_expired_total",
			Help:      "Total number of handoffs expired by the pickup-timeout sweep",
		},
		[]string{"tenant"},
	)

	c.pendingDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_queue_depth",
			Help:      "Number of handoffs currently waiting for pickup",
		},
		[]string{"tenant"},
	)

	c.pickupWait = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pickup_wait_seconds",
			Help:      "Time between handoff creation and pickup",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"tenant"},
	)

	c.handlingDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handling_duration_seconds",
			Help:      "Time between pickup and resolution",
			Buckets:   []float64{30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"tenant"},
	)

	c.messagesAppended = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Total number of relay messages appended",
		},
		[]string{"tenant", "sender_kind"},
	)

	c.escalationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of escalation events by kind",
		},
		[]string{"tenant", "kind"},
	)

	c.notificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of escalation notifications by status",
		},
		[]string{"tenant", "status"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordHandoffCreated records one handoff creation.
func (c *Collector) RecordHandoffCreated(tenant string) {
	c.handoffsCreated.WithLabelValues(tenant).Inc()
}

// RecordPickup records one pickup attempt and, on success, the wait time.
func (c *Collector) RecordPickup(tenant, outcome string, wait time.Duration) {
	c.pickupsTotal.WithLabelValues(tenant, outcome).Inc()
	if outcome == OutcomeSuccess {
		c.pickupWait.WithLabelValues(tenant).Observe(wait.Seconds())
	}
}

// RecordResolve records one resolve attempt and, on success, the handling time.
func (c *Collector) RecordResolve(tenant, outcome string, handling time.Duration) {
	c.resolvesTotal.WithLabelValues(tenant, outcome).Inc()
	if outcome == OutcomeSuccess {
		c.handlingDuration.WithLabelValues(tenant).Observe(handling.Seconds())
	}
}

// RecordExpired records expired handoffs from a sweep.
func (c *Collector) RecordExpired(tenant string, count int) {
	c.handoffsExpired.WithLabelValues(tenant).Add(float64(count))
}

// SetPendingDepth publishes the current pending queue depth.
func (c *Collector) SetPendingDepth(tenant string, depth int64) {
	c.pendingDepth.WithLabelValues(tenant).Set(float64(depth))
}

// RecordMessageAppended records one relay append.
func (c *Collector) RecordMessageAppended(tenant, senderKind string) {
	c.messagesAppended.WithLabelValues(tenant, senderKind).Inc()
}

// RecordEscalation records one escalation event.
func (c *Collector) RecordEscalation(tenant, kind string) {
	c.escalationsTotal.WithLabelValues(tenant, kind).Inc()
}

// RecordNotification records one notification publish attempt.
func (c *Collector) RecordNotification(tenant, status string) {
	c.notificationsTotal.WithLabelValues(tenant, status).Inc()
}

// RecordDBConnections publishes connection pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// statusCode buckets an HTTP status code for the status label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
