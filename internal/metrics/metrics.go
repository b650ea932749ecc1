// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guardian_risk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// IngestEventsTotal counts ingested events by kind and outcome.
	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "ingest_events_total",
			Help:      "Total ingested events by kind (signal, topic_session) and outcome (applied, duplicate, rejected).",
		},
		[]string{"kind", "outcome"},
	)

	// AlertsTotal counts alerts emitted by tier.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "alerts_total",
			Help:      "Total alerts emitted by tier.",
		},
		[]string{"tier"},
	)

	// AlertsSuppressedTotal counts alerts dropped by the suppression filter by reason.
	AlertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "alerts_suppressed_total",
			Help:      "Total would-be alerts dropped by the suppression filter, by reason.",
		},
		[]string{"reason"},
	)

	// GroomingStageTransitionsTotal counts detector stage advances by new stage.
	GroomingStageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "grooming_stage_transitions_total",
			Help:      "Total grooming detector stage advances, by stage entered.",
		},
		[]string{"stage"},
	)

	// EscalationStepsTotal counts escalation notification steps by step name.
	EscalationStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "escalation_steps_total",
			Help:      "Total escalation notification steps executed, by step (primary, secondary, emergency).",
		},
		[]string{"step"},
	)

	// EscalationOutcomesTotal counts finished escalation runs by outcome.
	EscalationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "escalation_outcomes_total",
			Help:      "Total escalation runs finished, by outcome (acknowledged, exhausted).",
		},
		[]string{"outcome"},
	)

	// ReplaysCapturedTotal counts conversation replays captured by retention tier.
	ReplaysCapturedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "replays_captured_total",
			Help:      "Total conversation replays captured, by retention tier.",
		},
		[]string{"tier"},
	)

	// ReplaysPurgedTotal counts replays removed by the retention sweep.
	ReplaysPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "replays_purged_total",
			Help:      "Total expired conversation replays removed by the retention sweep.",
		},
	)

	// NotificationsTotal counts notification dispatch attempts by channel and result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "notifications_total",
			Help:      "Total notification dispatch attempts by channel and result.",
		},
		[]string{"channel", "result"},
	)

	// FamilyRecalcsTotal counts family trust network recalculations by result.
	FamilyRecalcsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian_risk",
			Name:      "family_recalcs_total",
			Help:      "Total family trust network recalculations, by result (ok, retried, stale).",
		},
		[]string{"result"},
	)

	// ActiveEscalationRuns tracks escalation runs currently waiting on a deadline.
	ActiveEscalationRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guardian_risk",
			Name:      "active_escalation_runs",
			Help:      "Number of escalation runs currently in flight.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guardian_risk",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian_risk", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian_risk", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian_risk", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian_risk", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		IngestEventsTotal,
		AlertsTotal,
		AlertsSuppressedTotal,
		GroomingStageTransitionsTotal,
		EscalationStepsTotal,
		EscalationOutcomesTotal,
		ReplaysCapturedTotal,
		ReplaysPurgedTotal,
		NotificationsTotal,
		FamilyRecalcsTotal,
		ActiveEscalationRuns,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
