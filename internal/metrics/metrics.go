// Package metrics provides Prometheus metrics for Katler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "katler"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// HTTPRateLimitedTotal counts requests rejected by the rate limiter.
	HTTPRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the per-user rate limiter",
		},
	)
)

// Stream metrics
var (
	// StreamFetchDuration tracks historical message fetch latency.
	StreamFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "fetch_duration_seconds",
			Help:      "Historical message fetch latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// StreamFetchErrors counts failed historical fetches.
	StreamFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "fetch_errors_total",
			Help:      "Total failed historical message fetches",
		},
	)

	// StreamEventsTotal counts realtime message events by outcome.
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Realtime message events by outcome",
		},
		[]string{"outcome"}, // applied, buffered, duplicate, stale
	)

	// StreamAuthorLookupErrors counts failed author name resolutions.
	StreamAuthorLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "author_lookup_errors_total",
			Help:      "Total failed author display name lookups",
		},
	)

	// MessagesSentTotal counts messages accepted by the store.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Total messages sent by tag",
		},
		[]string{"tag"},
	)
)

// Membership and audit metrics
var (
	// InvitesRespondedTotal counts invite responses by decision.
	InvitesRespondedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invites",
			Name:      "responded_total",
			Help:      "Total invite responses by decision",
		},
		[]string{"decision"},
	)

	// AuditEntriesTotal counts recorded project entries.
	AuditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total project entries recorded",
		},
	)

	// AuditEntryFailures counts entry log writes that failed.
	AuditEntryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entry_failures_total",
			Help:      "Total project entries that could not be recorded",
		},
	)
)

// Session metrics
var (
	// SessionsActive tracks open sessions in the hub.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open sessions",
		},
	)

	// SessionsEvictedTotal counts sessions closed for inactivity.
	SessionsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "evicted_total",
			Help:      "Total sessions evicted after the idle timeout",
		},
	)

	// SSEClientsActive tracks connected view streams.
	SSEClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "stream_clients",
			Help:      "Number of connected view streams",
		},
	)
)

// Realtime metrics
var (
	// ChangesPublishedTotal counts changes published to the feed by table.
	ChangesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "changes_published_total",
			Help:      "Total committed changes published by table",
		},
		[]string{"table"},
	)

	// ChangePublishErrors counts changes that could not be published.
	ChangePublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "publish_errors_total",
			Help:      "Total change publication failures by table",
		},
		[]string{"table"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
