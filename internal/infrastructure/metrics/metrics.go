// Package metrics exposes billing counters to prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Config sets the constant labels attached to every series
type Config struct {
	ServiceName string
	Environment string
}

// Metrics holds the billing collectors. The zero value is not usable; build
// it with New.
type Metrics struct {
	scheduleRuns      *prometheus.CounterVec
	invoicesGenerated prometheus.Counter
	deliveries        *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	fanoutConnections prometheus.Gauge
	fanoutDropped     prometheus.Counter
	webhookRejected   prometheus.Counter
}

// New creates the collectors and registers them on registerer. A nil
// registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billingd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		scheduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "billing_scheduler_runs_total",
				Help:        "Schedule runs by outcome.",
				ConstLabels: constLabels,
			},
			[]string{"result"}, // generated | replayed | skipped | failed
		),
		invoicesGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "billing_scheduler_invoices_generated_total",
				Help:        "Invoices created by the recurring scheduler.",
				ConstLabels: constLabels,
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "billing_deliveries_total",
				Help:        "Invoice delivery attempts by outcome.",
				ConstLabels: constLabels,
			},
			[]string{"result"}, // sent | retry | failed
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "billing_events_published_total",
				Help:        "Change events handed to the fan-out hub.",
				ConstLabels: constLabels,
			},
			[]string{"type"},
		),
		fanoutConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "billing_fanout_connections",
				Help:        "Open event stream connections.",
				ConstLabels: constLabels,
			},
		),
		fanoutDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "billing_fanout_dropped_events_total",
				Help:        "Events dropped from full connection queues.",
				ConstLabels: constLabels,
			},
		),
		webhookRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "billing_gateway_webhooks_rejected_total",
				Help:        "Gateway callbacks rejected for a bad signature.",
				ConstLabels: constLabels,
			},
		),
	}

	registerer.MustRegister(
		m.scheduleRuns,
		m.invoicesGenerated,
		m.deliveries,
		m.eventsPublished,
		m.fanoutConnections,
		m.fanoutDropped,
		m.webhookRejected,
	)
	return m
}

// ScheduleRun counts one schedule run
func (m *Metrics) ScheduleRun(result string) {
	m.scheduleRuns.WithLabelValues(result).Inc()
}

// InvoiceGenerated counts one invoice created by the scheduler
func (m *Metrics) InvoiceGenerated() {
	m.invoicesGenerated.Inc()
}

// Delivery counts one delivery attempt
func (m *Metrics) Delivery(result string) {
	m.deliveries.WithLabelValues(result).Inc()
}

// EventPublished counts one event entering the fan-out
func (m *Metrics) EventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// ConnectionOpened and ConnectionClosed track open stream connections
func (m *Metrics) ConnectionOpened() {
	m.fanoutConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.fanoutConnections.Dec()
}

// EventDropped counts one event evicted from a full queue
func (m *Metrics) EventDropped() {
	m.fanoutDropped.Inc()
}

// WebhookRejected counts one gateway callback with a bad signature
func (m *Metrics) WebhookRejected() {
	m.webhookRejected.Inc()
}
