package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func envelopeMessage(t *testing.T, eventID, eventType string) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(Envelope{
		EventID:       eventID,
		AggregateType: domain.AggregateOrder,
		AggregateID:   "o-1",
		EventType:     eventType,
		Payload:       json.RawMessage(`{"order_id":"o-1"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: TopicOrderEvents, Partition: 0, Offset: 1, Key: []byte("o-1"), Value: value}
}

func quietLogger(name string) *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("test", name)
}

func TestNewConsumerErrors(t *testing.T) {
	handler := func(context.Context, domain.Event) error { return nil }
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, handler); err == nil {
		t.Fatal("expected new consumer error")
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := NewConsumerFromGroup(group, []string{"topic-a"}, func(context.Context, domain.Event) error { return nil },
		WithConsumerLogger(quietLogger("consumer")))

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := NewConsumerFromGroup(group, nil, nil, WithConsumerLogger(quietLogger("stop")))
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumerSetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	if err := consumer.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := consumer.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestConsumeClaimDeliversDecodedEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []domain.Event
	consumer := NewConsumerFromGroup(nil, nil, func(_ context.Context, event domain.Event) error {
		got = append(got, event)
		return nil
	}, WithConsumerLogger(quietLogger("claim")))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- envelopeMessage(t, "evt-1", domain.EventOrderCreated)
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected one marked message, got %d", len(session.marked))
	}
	if len(got) != 1 || got[0].ID != "evt-1" || got[0].Type != domain.EventOrderCreated || got[0].Topic != TopicOrderEvents {
		t.Fatalf("unexpected delivered events: %+v", got)
	}
	if string(got[0].Payload) != `{"order_id":"o-1"}` {
		t.Fatalf("payload must be passed through, got %s", got[0].Payload)
	}
}

func TestConsumeClaimFailedHandlerWithoutDLQ(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	consumer := NewConsumerFromGroup(nil, nil, func(context.Context, domain.Event) error {
		attempts++
		return errors.New("db down")
	}, WithConsumerLogger(quietLogger("claim-fail")), WithRetry(2, 0))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- envelopeMessage(t, "evt-2", domain.EventOrderCreated)
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err == nil {
		t.Fatal("expected session to end for redelivery")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if len(session.marked) != 0 {
		t.Fatalf("failed message should not be marked, got %d", len(session.marked))
	}
}

func TestConsumeClaimRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	consumer := NewConsumerFromGroup(nil, nil, func(context.Context, domain.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	}, WithConsumerLogger(quietLogger("claim-retry")), WithRetry(3, time.Millisecond))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- envelopeMessage(t, "evt-3", domain.EventOrderCancelled)
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected message marked after recovery, got %d", len(session.marked))
	}
}

func TestConsumeClaimDeadLettersAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})

	consumer := NewConsumerFromGroup(nil, nil, func(context.Context, domain.Event) error { return errors.New("permanent") },
		WithConsumerLogger(quietLogger("claim-dlq")),
		WithRetry(1, 0),
		WithDLQ(NewProducerFromSync(mockProducer, quietLogger("dlq")), ""),
	)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- envelopeMessage(t, "evt-4", domain.EventOrderCreated)
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("dead-lettered message must be marked, got %d", len(session.marked))
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConsumeClaimDLQFailureEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	consumer := NewConsumerFromGroup(nil, nil, func(context.Context, domain.Event) error { return errors.New("permanent") },
		WithConsumerLogger(quietLogger("claim-dlq-fail")),
		WithRetry(1, 0),
		WithDLQ(NewProducerFromSync(mockProducer, quietLogger("dlq")), "custom.dlq"),
	)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- envelopeMessage(t, "evt-5", domain.EventOrderCreated)
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err == nil {
		t.Fatal("expected dlq failure")
	}
	if len(session.marked) != 0 {
		t.Fatalf("message must stay unmarked, got %d", len(session.marked))
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConsumeClaimAcksMalformedMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := false
	consumer := NewConsumerFromGroup(nil, nil, func(context.Context, domain.Event) error {
		called = true
		return nil
	}, WithConsumerLogger(quietLogger("claim-malformed")))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicOrderEvents, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicOrderEvents, Value: []byte("{")}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicOrderEvents, Value: []byte(`{"payload":{}}`)}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if called {
		t.Fatal("handler must not see malformed messages")
	}
	if len(session.marked) != 2 {
		t.Fatalf("malformed messages must be acknowledged, got %d", len(session.marked))
	}
}

func TestDecodeEventFallsBackToHeaders(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic: TopicOrderEvents,
		Value: []byte(`{"aggregate_id":"o-9","payload":{"x":1}}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderEventID), Value: []byte("evt-9")},
			{Key: []byte(HeaderEventType), Value: []byte(domain.EventOrderCancelled)},
		},
	}
	event, err := DecodeEvent(msg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.ID != "evt-9" || event.Type != domain.EventOrderCancelled || event.AggregateID != "o-9" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := NewConsumerFromGroup(nil, nil, func(context.Context, domain.Event) error { return nil },
		WithConsumerLogger(quietLogger("claim-stop")))
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
