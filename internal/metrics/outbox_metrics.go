package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics содержит метрики публикации transactional outbox.
type OutboxMetrics struct {
	publishAttempts *prometheus.CounterVec
	publishLatency  prometheus.Histogram
	readyRecords    prometheus.Gauge
	failedRecords   prometheus.Gauge
	oldestReadyAge  prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox в registerer (nil - DefaultRegisterer).
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		publishAttempts: register(registerer, "ordersaga_outbox_publish_attempts_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"})),
		publishLatency: register(registerer, "ordersaga_outbox_publish_duration_seconds", prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordersaga_outbox_publish_duration_seconds",
			Help:    "Latency of a single broker publish from the outbox.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		})),
		readyRecords: register(registerer, "ordersaga_outbox_ready_records", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordersaga_outbox_ready_records",
			Help: "Current number of READY records in transactional outbox.",
		})),
		failedRecords: register(registerer, "ordersaga_outbox_failed_records", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordersaga_outbox_failed_records",
			Help: "Current number of dead-lettered (FAILED) outbox records.",
		})),
		oldestReadyAge: register(registerer, "ordersaga_outbox_oldest_ready_age_seconds", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordersaga_outbox_oldest_ready_age_seconds",
			Help: "Age in seconds of the oldest READY outbox record.",
		})),
	}
}

// RecordPublish фиксирует исход попытки публикации: sent, retry, failed, dlq_failed.
func (m *OutboxMetrics) RecordPublish(result string, latency time.Duration) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
	if latency > 0 {
		m.publishLatency.Observe(latency.Seconds())
	}
}

// SetBacklog обновляет gauge'и backlog по снимку статистики.
func (m *OutboxMetrics) SetBacklog(ready, failed int, oldestReadyAt, now time.Time) {
	if m == nil {
		return
	}
	m.readyRecords.Set(float64(ready))
	m.failedRecords.Set(float64(failed))
	if ready == 0 || oldestReadyAt.IsZero() {
		m.oldestReadyAge.Set(0)
		return
	}
	age := now.Sub(oldestReadyAt).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestReadyAge.Set(age)
}
