// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebhookMessages counts every inbound message by outcome.
var WebhookMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "echoid_webhook_messages_total",
		Help: "Inbound channel messages by outcome",
	},
	[]string{"status", "reason"},
)

// Verifications counts verify calls by outcome.
var Verifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "echoid_verifications_total",
		Help: "Verify calls by outcome",
	},
	[]string{"outcome"},
)

// SessionsCreated counts successful init calls.
var SessionsCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "echoid_sessions_created_total",
		Help: "Verification sessions created",
	},
)

// BillingJobs counts billing jobs by queue and result.
var BillingJobs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "echoid_billing_jobs_total",
		Help: "Billing jobs by queue and result",
	},
	[]string{"queue", "result"},
)

// GatewayRequestDuration observes outbound gateway calls.
var GatewayRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "echoid_gateway_request_duration_seconds",
		Help:    "Outbound gateway call duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "result"},
)

// AuditEvents counts events handed to the audit sinks.
var AuditEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "echoid_audit_events_total",
		Help: "Audit events by sink and result",
	},
	[]string{"sink", "result"},
)

// HTTPRequests counts served requests by route pattern and status.
var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "echoid_http_requests_total",
		Help: "HTTP requests by route and status code",
	},
	[]string{"method", "route", "status"},
)

var (
	registry     = prometheus.NewRegistry()
	registerOnce sync.Once
)

// RegisterMetrics registers the collectors with reg. It panics on duplicate registration.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		WebhookMessages,
		Verifications,
		SessionsCreated,
		BillingJobs,
		GatewayRequestDuration,
		AuditEvents,
		HTTPRequests,
	)
}

// Registry returns the process registry with the service and runtime collectors.
func Registry() *prometheus.Registry {
	registerOnce.Do(func() {
		RegisterMetrics(registry)
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// Handler serves the process registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

func RecordWebhook(status, reason string) {
	WebhookMessages.WithLabelValues(status, reason).Inc()
}

func RecordVerification(outcome string) {
	Verifications.WithLabelValues(outcome).Inc()
}

func RecordBillingJob(queue, result string) {
	BillingJobs.WithLabelValues(queue, result).Inc()
}

func RecordGatewayCall(operation string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayRequestDuration.WithLabelValues(operation, result).Observe(took.Seconds())
}

func RecordAuditEvent(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	AuditEvents.WithLabelValues(sink, result).Inc()
}
