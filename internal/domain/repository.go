package domain

import (
	"context"
	"time"
)

// Все репозитории используют транзакцию из ctx, если она открыта через TxManager.

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking и увеличивает Version.
	Save(ctx context.Context, order Order) error
	// DeletePending удаляет заказ, если он ещё в статусе pending. Иначе возвращает ErrOrderNotFound.
	DeletePending(ctx context.Context, id string) error
}

// OutboxRepository - хранилище transactional outbox.
type OutboxRepository interface {
	// Ready вставляет READY-строку; вызывать внутри транзакции, меняющей описываемое состояние.
	Ready(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) (OutboxMessage, error)
	// Insert вставляет READY-строку с заранее назначенным ID.
	Insert(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullReady возвращает до limit READY-строк в порядке создания.
	PullReady(ctx context.Context, limit int) ([]OutboxMessage, error)
	// MarkSent переводит READY-строку в SENT.
	MarkSent(ctx context.Context, id string, publishedAt time.Time) error
	// MarkRetry увеличивает счётчик попыток; при retryCount >= maxRetries строка становится FAILED.
	MarkRetry(ctx context.Context, id string, lastError string, maxRetries int) (OutboxStatus, error)
	// ListFailed - административный запрос dead-letter строк.
	ListFailed(ctx context.Context, limit int) ([]OutboxMessage, error)
	// Requeue возвращает FAILED-строку в READY со сброшенным счётчиком.
	Requeue(ctx context.Context, id string) error
	// Stats возвращает размер backlog.
	Stats(ctx context.Context) (OutboxStats, error)
}

// ProcessedEventRepository - ledger обработанных входящих событий.
type ProcessedEventRepository interface {
	// Exists сообщает, обработано ли событие данным потребителем.
	Exists(ctx context.Context, consumer, eventID string) (bool, error)
	// Record фиксирует обработку; повтор возвращает ErrDuplicateEvent.
	Record(ctx context.Context, event ProcessedEvent) error
	// DeleteBefore удаляет записи старше before, не более limit штук.
	DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// StockRepository хранит остатки и складские удержания.
type StockRepository interface {
	GetItem(ctx context.Context, sku string) (StockItem, error)
	// SaveItem сохраняет остаток, если Version совпадает с текущей, иначе ErrVersionConflict.
	SaveItem(ctx context.Context, item StockItem) error
	UpsertItem(ctx context.Context, item StockItem) error
	CreateReservation(ctx context.Context, reservation StockReservation) error
	GetReservation(ctx context.Context, id string) (StockReservation, error)
	GetReservationByOrder(ctx context.Context, orderID string) (StockReservation, error)
	SaveReservation(ctx context.Context, reservation StockReservation) error
}

// CouponRepository хранит купоны и их удержания с дедлайном.
type CouponRepository interface {
	GetCoupon(ctx context.Context, id string) (Coupon, error)
	// SaveCoupon сохраняет купон с проверкой Version.
	SaveCoupon(ctx context.Context, coupon Coupon) error
	UpsertCoupon(ctx context.Context, coupon Coupon) error
	CreateHold(ctx context.Context, hold TimedReservation) error
	GetHold(ctx context.Context, id string) (TimedReservation, error)
	// GetHoldByOrder возвращает активное удержание заказа.
	GetHoldByOrder(ctx context.Context, orderID string) (TimedReservation, error)
	DeleteHold(ctx context.Context, id string) error
	// ListExpiredHolds возвращает RESERVED-удержания с expires_at < now.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]TimedReservation, error)
}

// PointRepository хранит балансы баллов и удержания.
type PointRepository interface {
	GetAccount(ctx context.Context, customerID string) (PointAccount, error)
	// SaveAccount сохраняет баланс с проверкой Version.
	SaveAccount(ctx context.Context, account PointAccount) error
	UpsertAccount(ctx context.Context, account PointAccount) error
	CreateHold(ctx context.Context, hold PointHold) error
	GetHold(ctx context.Context, id string) (PointHold, error)
	GetHoldByOrder(ctx context.Context, orderID string) (PointHold, error)
	SaveHold(ctx context.Context, hold PointHold) error
}

// PaymentRepository хранит авторизации платежей.
type PaymentRepository interface {
	Create(ctx context.Context, auth PaymentAuthorization) error
	Get(ctx context.Context, id string) (PaymentAuthorization, error)
	GetByOrder(ctx context.Context, orderID string) (PaymentAuthorization, error)
	Save(ctx context.Context, auth PaymentAuthorization) error
}
