package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging"
	"github.com/vladislavdragonenkov/bazaar/internal/storage/memory"
)

func enqueue(t *testing.T, store *memory.Store, ids ...string) {
	t.Helper()
	for i, id := range ids {
		_, err := store.Outbox().Enqueue(context.Background(), domain.OutboxMessage{
			ID:            id,
			AggregateType: domain.AggregateOrder,
			AggregateID:   id,
			EventType:     domain.EventOrderCreated,
			Payload:       []byte(`{"order_id":1}`),
			CreatedAt:     time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
}

func pendingCount(t *testing.T, store *memory.Store) int {
	t.Helper()
	stats, err := store.Outbox().Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	return stats.PendingCount
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "msg-1", "msg-2")
	publisher := &stubPublisher{}

	worker := NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 2 {
		t.Fatalf("expected 2 publish calls, got %d", got)
	}
	if got := pendingCount(t, store); got != 0 {
		t.Fatalf("expected empty backlog, got %d", got)
	}
	if ids := publisher.publishedIDs(); ids[0] != "msg-1" || ids[1] != "msg-2" {
		t.Fatalf("expected oldest first, got %v", ids)
	}
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "msg-3")
	publisher := &stubPublisher{err: errors.New("publish failed")}
	dlqPublisher := &stubPublisher{}
	failedAt := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	worker := NewWorker(
		store.Outbox(),
		publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
		WithClock(func() time.Time { return failedAt }),
	)
	res := worker.ProcessOnce(context.Background())
	if res != (BatchResult{Pulled: 1, DeadLettered: 1}) {
		t.Fatalf("unexpected batch result %+v", res)
	}

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := pendingCount(t, store); got != 0 {
		t.Fatalf("expected failed message to leave backlog, got %d pending", got)
	}
	if got := dlqPublisher.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}

	dlq := dlqPublisher.last()
	if dlq.EventType != domain.EventOrderCreated+".dlq" {
		t.Fatalf("unexpected DLQ event type %q", dlq.EventType)
	}
	if !strings.Contains(string(dlq.Payload), "publish failed") {
		t.Fatalf("expected publish error in DLQ payload, got %s", dlq.Payload)
	}

	var dl messaging.DeadLetter
	if err := json.Unmarshal(dlq.Payload, &dl); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if dl.OutboxID != "msg-3" || dl.EventType != domain.EventOrderCreated {
		t.Fatalf("unexpected dead letter %+v", dl)
	}
	if !dl.DeadLetteredAt.Equal(failedAt) {
		t.Fatalf("dead letter time %s, want %s", dl.DeadLetteredAt, failedAt)
	}
	if !strings.Contains(dl.PublishError, domain.ErrOutboxPublish.Error()) {
		t.Fatalf("unexpected publish error %q", dl.PublishError)
	}
}

func TestWorker_ProcessOnce_FailsWithoutDLQ(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "msg-7", "msg-8")
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("down"), nil}}

	res := NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0), WithMaxAttempts(1)).ProcessOnce(context.Background())

	if res != (BatchResult{Pulled: 2, Sent: 1, DeadLettered: 1}) {
		t.Fatalf("unexpected batch result %+v", res)
	}
	if got := pendingCount(t, store); got != 0 {
		t.Fatalf("expected both messages to leave backlog, got %d pending", got)
	}
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "msg-4")
	publisher := &stubPublisher{
		sequenceErrors: []error{
			errors.New("attempt 1"),
			errors.New("attempt 2"),
			nil,
		},
	}

	worker := NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := pendingCount(t, store); got != 0 {
		t.Fatalf("expected message to be sent, got %d pending", got)
	}
}

func TestWorker_ProcessOnce_PausesWhileCircuitOpen(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "msg-5", "msg-6")
	publisher := &openCircuitPublisher{}

	worker := NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0))
	res := worker.ProcessOnce(context.Background())

	if !res.Paused || res.Sent != 0 {
		t.Fatalf("expected paused batch, got %+v", res)
	}
	if got := publisher.calls(); got != 0 {
		t.Fatalf("expected no publish attempts while circuit is open, got %d", got)
	}
	if got := pendingCount(t, store); got != 2 {
		t.Fatalf("expected messages to stay pending, got %d", got)
	}
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))
	if got := worker.retryBackoff(1); got != 10*time.Millisecond {
		t.Fatalf("unexpected first delay %s", got)
	}
	if got := worker.retryBackoff(3); got != 40*time.Millisecond {
		t.Fatalf("unexpected third delay %s", got)
	}
	if got := worker.retryBackoff(64); got != maxRetryDelay {
		t.Fatalf("expected delay to be capped at %s, got %s", maxRetryDelay, got)
	}
	if got := NewWorker(nil, nil, WithRetryBaseDelay(0)).retryBackoff(5); got != 0 {
		t.Fatalf("expected no delay without base, got %s", got)
	}
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
	callCount      int
}

func (s *stubPublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, msg)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) publishedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.published))
	for _, msg := range s.published {
		ids = append(ids, msg.ID)
	}
	return ids
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

type openCircuitPublisher struct {
	stubPublisher
}

func (*openCircuitPublisher) Open() bool { return true }

var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(
		memory.NewStore().Outbox(),
		&stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
