// Package telemetry exposes relay metrics in Prometheus format.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ncore "safetyalert/internal/notifications/core"
	"safetyalert/internal/types"
)

// Prometheus records HTTP and delivery metrics into a private registry.
// It satisfies core.MetricsCollector and ncore.NotificationMetrics.
type Prometheus struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	deliveries      *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	batchSize       *prometheus.HistogramVec
	queueLag        prometheus.Histogram
}

// NewPrometheus registers the relay collectors plus the Go runtime and
// process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safetyalert_http_requests_total",
			Help: "HTTP requests handled by the relay.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safetyalert_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safetyalert_delivery_attempts_total",
			Help: "Per-recipient delivery outcomes.",
		}, []string{"channel", "result"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safetyalert_delivery_latency_seconds",
			Help:    "Time spent in the transport for one send.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"channel"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safetyalert_fanout_batch_size",
			Help:    "Recipients per fan-out.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}, []string{"category"}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safetyalert_alert_queue_lag_seconds",
			Help:    "Delay between publishing an alert event and consuming it.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	p.registry.MustRegister(
		p.requests,
		p.requestDuration,
		p.deliveries,
		p.deliveryLatency,
		p.batchSize,
		p.queueLag,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Handler serves the registry for GET /metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) RecordRequest(method, endpoint, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, endpoint, status).Inc()
	p.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (p *Prometheus) RecordDelivery(_ context.Context, channel types.ChannelType, result ncore.MetricResult) {
	p.deliveries.WithLabelValues(string(channel), string(result)).Inc()
}

func (p *Prometheus) RecordLatency(_ context.Context, channel types.ChannelType, d time.Duration) {
	p.deliveryLatency.WithLabelValues(string(channel)).Observe(d.Seconds())
}

func (p *Prometheus) RecordBatch(_ context.Context, category string, size int) {
	p.batchSize.WithLabelValues(category).Observe(float64(size))
}

func (p *Prometheus) RecordQueueLag(_ context.Context, lag time.Duration) {
	p.queueLag.Observe(lag.Seconds())
}

var _ ncore.NotificationMetrics = (*Prometheus)(nil)
