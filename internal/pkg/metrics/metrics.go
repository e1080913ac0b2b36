package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundsync",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "groundsync",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "groundsync",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Sync engine metrics
	MutationsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundsync",
		Subsystem: "queue",
		Name:      "mutations_enqueued_total",
		Help:      "Total mutations appended to the local queue",
	}, []string{"entity", "operation"})

	MutationsSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundsync",
		Subsystem: "sync",
		Name:      "mutations_total",
		Help:      "Mutations processed by the sync engine, by result",
	}, []string{"entity", "result"})

	MutationRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundsync",
		Subsystem: "sync",
		Name:      "retries_total",
		Help:      "Transient remote failures retried by the sync engine",
	}, []string{"entity"})

	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "groundsync",
		Subsystem: "sync",
		Name:      "drain_duration_seconds",
		Help:      "Duration of a full queue drain",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	RemoteEventsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundsync",
		Subsystem: "stream",
		Name:      "events_total",
		Help:      "Remote change events handled, by kind and merge result",
	}, []string{"kind", "result"})

	StreamRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "groundsync",
		Subsystem: "stream",
		Name:      "restarts_total",
		Help:      "Remote subscriptions re-established after ending",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groundsync",
		Subsystem: "stream",
		Name:      "active",
		Help:      "Surveys with a running remote change stream",
	})

	CodecFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groundsync",
		Subsystem: "codec",
		Name:      "failures_total",
		Help:      "Geometry encode/decode failures",
	}, []string{"direction"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groundsync",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groundsync",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groundsync",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groundsync",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})

	DBPoolEmptyAcquires = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "groundsync",
		Subsystem: "db",
		Name:      "pool_empty_acquires",
		Help:      "Times a connection had to be established when acquiring from pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// PoolStat is the subset of pgxpool.Stat read by UpdateDBPoolMetrics.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	EmptyAcquireCount() int64
}

// UpdateDBPoolMetrics copies pool statistics into the db gauges.
func UpdateDBPoolMetrics(s PoolStat) {
	DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
	DBPoolConnsIdle.Set(float64(s.IdleConns()))
	DBPoolConnsOpen.Set(float64(s.TotalConns()))
	DBPoolEmptyAcquires.Set(float64(s.EmptyAcquireCount()))
}
