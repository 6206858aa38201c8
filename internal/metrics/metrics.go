// Package metrics holds the Prometheus instruments exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "missionctl"

// Metrics is safe for concurrent use. A nil *Metrics records nothing, so
// components can be constructed without one in tests.
type Metrics struct {
	reg *prometheus.Registry

	webhookEvents   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	liveEvents      prometheus.Counter
	liveSubscribers prometheus.Gauge
}

// New creates a private registry with the process and Go collectors plus
// the missionctl counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook events by discriminator and outcome.",
		}, []string{"type", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_notifications_total",
			Help:      "Outbound gateway notifications by outcome.",
		}, []string{"outcome"}),
		liveEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_total",
			Help:      "Change events published to live subscribers.",
		}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Current live feed subscriber count.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookEvents,
		m.notifications,
		m.liveEvents,
		m.liveSubscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WebhookEvent counts one dispatched event. outcome is one of ok,
// unauthorized, unknown_type, invalid, error.
func (m *Metrics) WebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// Notification counts one gateway call. outcome is sent, failed or skipped.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LiveEvent() {
	if m == nil {
		return
	}
	m.liveEvents.Inc()
}

func (m *Metrics) LiveSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.liveSubscribers.Add(delta)
}
