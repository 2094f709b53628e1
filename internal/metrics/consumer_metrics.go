package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConsumerMetrics содержит метрики идемпотентных потребителей и очистки ledger'а.
type ConsumerMetrics struct {
	events         *prometheus.CounterVec
	cleanupRuns    *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
}

// NewConsumerMetrics регистрирует метрики потребителей в registerer (nil - DefaultRegisterer).
func NewConsumerMetrics(registerer prometheus.Registerer) *ConsumerMetrics {
	return &ConsumerMetrics{
		events: register(registerer, "ordersaga_consumer_events_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_consumer_events_total",
			Help: "Incoming events handled by ledger-guarded consumers, by consumer and outcome.",
		}, []string{"consumer", "outcome"})),
		cleanupRuns: register(registerer, "ordersaga_ledger_cleanup_runs_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_ledger_cleanup_runs_total",
			Help: "Processed-event retention cleanup runs grouped by result.",
		}, []string{"result"})),
		cleanupDeleted: register(registerer, "ordersaga_ledger_cleanup_deleted_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_ledger_cleanup_deleted_total",
			Help: "Processed-event records removed by retention cleanup.",
		})),
	}
}

// RecordEvent фиксирует исход обработки: succeeded, failed, duplicate, error.
func (m *ConsumerMetrics) RecordEvent(consumer, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(consumer, outcome).Inc()
}

// RecordCleanup фиксирует прогон очистки.
func (m *ConsumerMetrics) RecordCleanup(ok bool, deleted int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
}
