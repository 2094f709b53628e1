package metrics

import "github.com/prometheus/client_golang/prometheus"

// CouponMetrics содержит метрики удержаний купонов.
type CouponMetrics struct {
	holds *prometheus.CounterVec
	swept prometheus.Counter
}

// NewCouponMetrics регистрирует метрики купонов в registerer (nil - DefaultRegisterer).
func NewCouponMetrics(registerer prometheus.Registerer) *CouponMetrics {
	return &CouponMetrics{
		holds: register(registerer, "ordersaga_coupon_holds_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_coupon_holds_total",
			Help: "Coupon hold transitions by result (reserved, rejected, confirmed, expired, cancelled).",
		}, []string{"result"})),
		swept: register(registerer, "ordersaga_coupon_swept_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_coupon_swept_total",
			Help: "Expired coupon holds released by the sweeper.",
		})),
	}
}

// RecordHold фиксирует переход удержания.
func (m *CouponMetrics) RecordHold(result string) {
	if m == nil {
		return
	}
	m.holds.WithLabelValues(result).Inc()
}

// RecordSwept добавляет число снятых sweep'ом удержаний.
func (m *CouponMetrics) RecordSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
