package health

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/ordersaga/internal/service/breaker"
)

// BreakerChecker отмечает сервис degraded, пока хотя бы один breaker открыт.
type BreakerChecker struct {
	name     string
	snapshot func() []breaker.Status
}

// NewBreakerChecker создаёт проверку поверх снимка реестра breaker'ов.
func NewBreakerChecker(name string, snapshot func() []breaker.Status) *BreakerChecker {
	return &BreakerChecker{name: name, snapshot: snapshot}
}

// Check перечисляет открытые зависимости в Message.
func (c *BreakerChecker) Check() Check {
	var open []string
	for _, st := range c.snapshot() {
		if st.State == breaker.StateOpen {
			open = append(open, st.Name)
		}
	}
	if len(open) == 0 {
		return Check{Name: c.name, Status: StatusHealthy}
	}
	return Check{
		Name:    c.name,
		Status:  StatusDegraded,
		Message: fmt.Sprintf("open: %s", strings.Join(open, ",")),
	}
}
