// Package metrics holds the Prometheus collectors for vidscribe.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidscribe"

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	registry *prometheus.Registry

	Notifications   *prometheus.CounterVec
	Enrichments     *prometheus.CounterVec
	EnrichmentTime  prometheus.Histogram
	PollAttempts    *prometheus.CounterVec
	RetryClaims     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Inbound provider notifications by event and outcome.",
		}, []string{"event", "outcome"}),
		Enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Enrichment runs by outcome.",
		}, []string{"outcome"}),
		EnrichmentTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Wall time of enrichment runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}),
		PollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_poll_attempts_total",
			Help:      "Upload discovery poll attempts by result.",
		}, []string{"result"}),
		RetryClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_retries_total",
			Help:      "Enrichment retry decisions by trigger and result.",
		}, []string{"trigger", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status class.",
		}, []string{"route", "code"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Latency of outbound calls by service and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Notifications,
		m.Enrichments,
		m.EnrichmentTime,
		m.PollAttempts,
		m.RetryClaims,
		m.HTTPRequests,
		m.UpstreamLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncNotification(event, outcome string) {
	if m == nil || m.Notifications == nil {
		return
	}
	m.Notifications.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveEnrichment(outcome string, d time.Duration) {
	if m == nil || m.Enrichments == nil {
		return
	}
	m.Enrichments.WithLabelValues(outcome).Inc()
	if m.EnrichmentTime != nil {
		m.EnrichmentTime.Observe(d.Seconds())
	}
}

func (m *Metrics) IncPollAttempt(result string) {
	if m == nil || m.PollAttempts == nil {
		return
	}
	m.PollAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRetry(trigger, result string) {
	if m == nil || m.RetryClaims == nil {
		return
	}
	m.RetryClaims.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) IncHTTPRequest(route string, status int) {
	if m == nil || m.HTTPRequests == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func (m *Metrics) ObserveUpstream(service, operation string, start time.Time) {
	if m == nil || m.UpstreamLatency == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
