package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/kantoor/pkg/db"
)

// Config labels every series with the running service.
type Config struct {
	ServiceName string
	Environment string
}

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonUniqueViolation  = "unique_violation"
	JobReasonSerialization    = "serialization_failure"
	JobReasonUnknown          = "unknown"
)

// Metrics holds the prometheus instruments for sync, numbering, webhooks,
// scheduler jobs and HTTP traffic. A nil *Metrics is a valid no-op.
type Metrics struct {
	syncRuns          *prometheus.CounterVec
	syncRunDuration   *prometheus.HistogramVec
	syncTasksFetched  *prometheus.CounterVec
	syncTasksUpserted *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	numberingAttempts *prometheus.CounterVec
	rateLimitDenied   *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewDefault registers instruments on the default prometheus registerer.
func NewDefault(cfg Config) (*Metrics, error) {
	return New(prometheus.DefaultRegisterer, cfg)
}

func New(registerer prometheus.Registerer, cfg Config) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "kantoor"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &Metrics{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_sync_runs_total",
			Help:        "ClickUp sync passes by trigger source and terminal status.",
			ConstLabels: constLabels,
		}, []string{"source", "status"}),
		syncRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "kantoor_sync_run_duration_seconds",
			Help:        "Wall time of a ClickUp sync pass.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"source"}),
		syncTasksFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_sync_tasks_fetched_total",
			Help:        "Tasks fetched from ClickUp by entity type.",
			ConstLabels: constLabels,
		}, []string{"entity_type"}),
		syncTasksUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_sync_tasks_upserted_total",
			Help:        "Mirror rows upserted by entity type.",
			ConstLabels: constLabels,
		}, []string{"entity_type"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_webhook_events_total",
			Help:        "Inbound ClickUp webhooks by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		numberingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_numbering_attempts_total",
			Help:        "Document number allocation attempts by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_rate_limit_denied_total",
			Help:        "Requests rejected by the per-identity limiter.",
			ConstLabels: constLabels,
		}, []string{"endpoint"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "kantoor_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			ConstLabels: constLabels,
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kantoor_http_requests_total",
			Help:        "HTTP requests by route and status code.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "kantoor_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}

	collectors := []prometheus.Collector{
		m.syncRuns, m.syncRunDuration, m.syncTasksFetched, m.syncTasksUpserted,
		m.webhookEvents, m.numberingAttempts, m.rateLimitDenied,
		m.jobRuns, m.jobErrors, m.jobDuration, m.httpRequests, m.httpDuration,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveSyncRun(source, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(source, status).Inc()
	m.syncRunDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func (m *Metrics) AddSyncTasks(entityType string, fetched, upserted int) {
	if m == nil {
		return
	}
	m.syncTasksFetched.WithLabelValues(entityType).Add(float64(fetched))
	m.syncTasksUpserted.WithLabelValues(entityType).Add(float64(upserted))
}

func (m *Metrics) IncWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncNumberingAttempt(kind, outcome string) {
	if m == nil {
		return
	}
	m.numberingAttempts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncRateLimitDenied(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *Metrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case db.IsSerializationFailure(err):
		return JobReasonSerialization
	case db.IsDuplicateKeyErr(err):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

// GinMiddleware records request counts and latency per route template.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
