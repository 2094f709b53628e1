package domain

import "time"

// OutboxStatus описывает статус строки transactional outbox.
type OutboxStatus string

const (
	// OutboxStatusReady - событие ждёт публикации.
	OutboxStatusReady OutboxStatus = "READY"
	// OutboxStatusSent - событие подтверждено брокером.
	OutboxStatusSent OutboxStatus = "SENT"
	// OutboxStatusFailed - исчерпан лимит попыток (dead-letter).
	OutboxStatusFailed OutboxStatus = "FAILED"
)

// OutboxMessage хранит данные публикуемого события и служебные поля доставки.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	RetryCount    int
	LastError     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	ReadyCount    int
	FailedCount   int
	OldestReadyAt time.Time
}

// ProcessedOutcome - итог обработки входящего события.
type ProcessedOutcome string

const (
	// ProcessedOutcomeSucceeded - эффект события применён.
	ProcessedOutcomeSucceeded ProcessedOutcome = "SUCCEEDED"
	// ProcessedOutcomeFailed - событие отклонено, отказ зафиксирован.
	ProcessedOutcomeFailed ProcessedOutcome = "FAILED"
)

// ProcessedEvent - запись ledger'а: событие с этим ID уже дало терминальный эффект.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	Consumer    string
	Outcome     ProcessedOutcome
	ProcessedAt time.Time
}
