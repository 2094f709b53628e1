package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги создания заказа.
type SagaMetrics struct {
	sagaStarted   prometheus.Counter
	sagaCompleted prometheus.Counter
	sagaFailed    *prometheus.CounterVec
	compensations *prometheus.CounterVec

	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	activeSagas prometheus.Gauge
}

// NewSagaMetrics регистрирует метрики саги в registerer (nil - DefaultRegisterer).
func NewSagaMetrics(registerer prometheus.Registerer) *SagaMetrics {
	return &SagaMetrics{
		sagaStarted: register(registerer, "ordersaga_saga_started_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_saga_started_total",
			Help: "Total number of order sagas started",
		})),
		sagaCompleted: register(registerer, "ordersaga_saga_completed_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_saga_completed_total",
			Help: "Total number of order sagas completed successfully",
		})),
		sagaFailed: register(registerer, "ordersaga_saga_failed_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_saga_failed_total",
			Help: "Total number of order sagas failed, by failing step and reason",
		}, []string{"step", "reason"})),
		compensations: register(registerer, "ordersaga_saga_compensations_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_saga_compensations_total",
			Help: "Compensation calls issued by the saga, by step and result",
		}, []string{"step", "result"})),
		sagaDuration: register(registerer, "ordersaga_saga_duration_seconds", prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordersaga_saga_duration_seconds",
			Help:    "Duration of order sagas in seconds",
			Buckets: prometheus.DefBuckets,
		})),
		stepDuration: register(registerer, "ordersaga_saga_step_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ordersaga_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"})),
		activeSagas: register(registerer, "ordersaga_active_sagas", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordersaga_active_sagas",
			Help: "Number of order sagas currently in flight",
		})),
	}
}

// RecordSagaStarted увеличивает счётчик запущенных саг и число активных.
func (m *SagaMetrics) RecordSagaStarted() {
	if m == nil {
		return
	}
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordSagaFinished уменьшает число активных саг и фиксирует длительность.
func (m *SagaMetrics) RecordSagaFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.activeSagas.Dec()
	m.sagaDuration.Observe(duration.Seconds())
}

// RecordSagaCompleted увеличивает счётчик успешных саг.
func (m *SagaMetrics) RecordSagaCompleted() {
	if m == nil {
		return
	}
	m.sagaCompleted.Inc()
}

// RecordSagaFailed фиксирует неудачу на шаге step с причиной reason.
func (m *SagaMetrics) RecordSagaFailed(step, reason string) {
	if m == nil {
		return
	}
	m.sagaFailed.WithLabelValues(step, reason).Inc()
}

// RecordCompensation фиксирует результат компенсирующего вызова.
func (m *SagaMetrics) RecordCompensation(step string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.compensations.WithLabelValues(step, result).Inc()
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}
