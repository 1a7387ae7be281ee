package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/queue"
)

var _ queue.Hook = (*Metrics)(nil)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Queue metrics
	QueueOps      *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	GateWait      *prometheus.HistogramVec
	EventLatency  prometheus.Histogram
	EventsByLevel *prometheus.CounterVec

	// Component metrics
	EventsProduced prometheus.Gauge
	EventsConsumed prometheus.Gauge
	Alerts         prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
}

// NewMetrics creates a new metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		QueueOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_queue_operations_total",
				Help: "Total number of gated queue operations",
			},
			[]string{"op", "result"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_queue_depth",
				Help: "Number of events buffered in the gated queue",
			},
		),
		GateWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_gate_wait_seconds",
				Help:    "Time spent waiting for the queue gate",
				Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		EventLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_event_residence_seconds",
				Help:    "Time between event creation and consumption",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
		),
		EventsByLevel: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_consumed_by_priority_total",
				Help: "Consumed events by priority",
			},
			[]string{"priority"},
		),

		EventsProduced: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_events_produced",
				Help: "Events produced in the current run",
			},
		),
		EventsConsumed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_events_consumed",
				Help: "Events consumed in the current run",
			},
		),
		Alerts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_alerts",
				Help: "Consecutive priority alerts in the current run",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_ws_connections",
				Help: "Number of active WebSocket watchers",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_ws_messages_total",
				Help: "WebSocket messages sent to watchers",
			},
			[]string{"type"},
		),
	}
}

// OnEnqueue records a completed enqueue
func (m *Metrics) OnEnqueue(_ models.Event, waited time.Duration) {
	m.QueueOps.WithLabelValues("enqueue", "ok").Inc()
	m.GateWait.WithLabelValues("enqueue").Observe(waited.Seconds())
	m.QueueDepth.Inc()
}

// OnDequeue records a completed dequeue
func (m *Metrics) OnDequeue(event models.Event, waited time.Duration) {
	m.QueueOps.WithLabelValues("dequeue", "ok").Inc()
	m.GateWait.WithLabelValues("dequeue").Observe(waited.Seconds())
	m.QueueDepth.Dec()
	m.EventLatency.Observe(time.Since(event.CreatedAt).Seconds())
	m.EventsByLevel.WithLabelValues(event.Priority.String()).Inc()
}

// OnEmptyDequeue records a dequeue that found the queue empty
func (m *Metrics) OnEmptyDequeue(waited time.Duration) {
	m.QueueOps.WithLabelValues("dequeue", "empty").Inc()
	m.GateWait.WithLabelValues("dequeue").Observe(waited.Seconds())
}

// RecordSnapshot updates gauges from a sampled snapshot
func (m *Metrics) RecordSnapshot(s models.PipelineSnapshot) {
	m.EventsProduced.Set(float64(s.Producer.EventsProduced))
	m.EventsConsumed.Set(float64(s.Consumer.EventsConsumed))
	m.Alerts.Set(float64(s.Consumer.AlertCount))
	m.QueueDepth.Set(float64(s.Queue.Length))
}

// RecordWSMessage counts a message sent to a watcher
func (m *Metrics) RecordWSMessage(msgType string) {
	m.WSMessages.WithLabelValues(msgType).Inc()
}

// Handler returns an HTTP handler exposing the metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
