package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics публикует состояние circuit breaker'ов по зависимостям.
type BreakerMetrics struct {
	state      *prometheus.GaugeVec
	rejections *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewBreakerMetrics регистрирует метрики breaker'ов.
func NewBreakerMetrics(registerer prometheus.Registerer) *BreakerMetrics {
	return &BreakerMetrics{
		state: register(registerer, "ordersaga_breaker_state", prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ordersaga_breaker_state",
			Help: "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open)",
		}, []string{"name"})),
		rejections: register(registerer, "ordersaga_breaker_rejections_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_breaker_rejections_total",
			Help: "Calls rejected without invocation because the breaker was open",
		}, []string{"name"})),
		failures: register(registerer, "ordersaga_breaker_failures_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_breaker_failures_total",
			Help: "Failed calls counted by the breaker",
		}, []string{"name"})),
	}
}

// SetState фиксирует текущее состояние breaker'а name.
func (m *BreakerMetrics) SetState(name string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(name).Set(float64(state))
}

// RecordRejection увеличивает счётчик отклонённых вызовов.
func (m *BreakerMetrics) RecordRejection(name string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(name).Inc()
}

// RecordFailure увеличивает счётчик учтённых отказов.
func (m *BreakerMetrics) RecordFailure(name string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(name).Inc()
}
