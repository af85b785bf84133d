// Package metrics provides Prometheus instrumentation for assistant-hub.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// API request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Chat flow metrics
	MessagesTotal  *prometheus.CounterVec
	ReplyDuration  *prometheus.HistogramVec
	RepliesFailed  *prometheus.CounterVec
	FeedEvents     *prometheus.CounterVec
	ActiveSessions prometheus.Gauge

	// Dashboard usage metrics
	UsageEventsTotal *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_hub_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_hub_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_hub_messages_total",
				Help: "Total number of persisted chat messages",
			},
			[]string{"assistant", "role"},
		),
		ReplyDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_hub_reply_duration_seconds",
				Help:    "Time from user message to persisted assistant reply",
				Buckets: []float64{.25, .5, 1, 1.5, 2, 2.5, 3, 5, 10, 30},
			},
			[]string{"assistant"},
		),
		RepliesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_hub_replies_failed_total",
				Help: "Assistant replies that could not be produced or stored",
			},
			[]string{"assistant", "stage"},
		),
		FeedEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_hub_feed_events_total",
				Help: "Live feed events seen by chat sessions",
			},
			[]string{"outcome"},
		),
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistant_hub_active_sessions",
				Help: "Chat sessions with an open live subscription",
			},
		),
		UsageEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_hub_usage_events_total",
				Help: "Dashboard usage events by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordRequest records an API request with its status code.
func (m *Metrics) RecordRequest(route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordMessage counts a persisted message.
func (m *Metrics) RecordMessage(assistant, role string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(assistant, role).Inc()
}

// RecordReply observes the latency of a completed reply.
func (m *Metrics) RecordReply(assistant string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReplyDuration.WithLabelValues(assistant).Observe(duration.Seconds())
}

// RecordReplyFailure counts a reply that failed at stage.
func (m *Metrics) RecordReplyFailure(assistant, stage string) {
	if m == nil {
		return
	}
	m.RepliesFailed.WithLabelValues(assistant, stage).Inc()
}

// RecordFeedEvent counts a live feed event as "applied" or "duplicate".
func (m *Metrics) RecordFeedEvent(outcome string) {
	if m == nil {
		return
	}
	m.FeedEvents.WithLabelValues(outcome).Inc()
}

// SessionOpened and SessionClosed track live subscriptions.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordUsageEvent counts a dashboard usage event.
func (m *Metrics) RecordUsageEvent(kind string) {
	if m == nil {
		return
	}
	m.UsageEventsTotal.WithLabelValues(kind).Inc()
}
