// Package dispatch маршрутизирует входящие события по топику и типу к зарегистрированным обработчикам.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type route struct {
	topic     string
	eventType string
}

// Router - явная таблица (topic, event_type) → обработчики.
// Обработчики одного ключа вызываются по порядку регистрации; каждый из них идемпотентен,
// поэтому при ошибке повторная доставка безопасно перезапускает всех.
type Router struct {
	mu     sync.RWMutex
	routes map[route][]domain.EventHandler
	logger *log.Entry
}

// NewRouter создаёт пустой маршрутизатор.
func NewRouter(logger *log.Entry) *Router {
	if logger == nil {
		logger = log.WithField("component", "dispatch-router")
	}
	return &Router{routes: make(map[route][]domain.EventHandler), logger: logger}
}

// Register добавляет обработчик событий eventType из topic.
func (r *Router) Register(topic, eventType string, handler domain.EventHandler) {
	if handler == nil {
		panic(fmt.Sprintf("dispatch: nil handler for %s/%s", topic, eventType))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := route{topic: topic, eventType: eventType}
	r.routes[key] = append(r.routes[key], handler)
}

// Topics возвращает топики, на которые есть подписки.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range r.routes {
		seen[key.topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Dispatch передаёт событие обработчикам. Неизвестный тип логируется и подтверждается.
func (r *Router) Dispatch(ctx context.Context, event domain.Event) error {
	r.mu.RLock()
	handlers := r.routes[route{topic: event.Topic, eventType: event.Type}]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.logger.WithFields(log.Fields{
			"topic":      event.Topic,
			"event_type": event.Type,
			"event_id":   event.ID,
		}).Debug("no handler registered, acknowledging")
		return nil
	}

	for i, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("handler %d/%d for %s %s: %w", i+1, len(handlers), event.Type, event.ID, err)
		}
	}
	return nil
}
