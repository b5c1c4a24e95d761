// Package outbox доставляет события рынка из transactional outbox в брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// Исходы публикации для метрик.
const (
	resultSent        = "sent"
	resultRetry       = "retry"
	resultDeadLetter  = "dead_letter"
	resultDLQFailed   = "dlq_failed"
	resultCircuitOpen = "circuit_open"
)

var (
	outboxPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_outbox_publish_total",
		Help: "Outbox publish outcomes grouped by market event type.",
	}, []string{"event_type", "result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bazaar_outbox_pending_records",
		Help: "Market events waiting in the outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bazaar_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending market event.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Clock          func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) { opts.DLQPublisher = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

// WithBatchSize задаёт число событий за один цикл.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации перед DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками, дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) { opts.RetryBaseDelay = delay }
}

// WithClock подменяет часы, по которым считается возраст backlog и время попадания в DLQ.
func WithClock(clock func() time.Time) Option {
	return func(opts *WorkerOptions) { opts.Clock = clock }
}

// circuitState реализуют паблишеры с circuit breaker.
type circuitState interface {
	Open() bool
}

// BatchResult итог одного цикла ProcessOnce.
type BatchResult struct {
	Pulled       int
	Sent         int
	DeadLettered int
	// Paused выставляется, если цикл прерван открытым circuit breaker:
	// оставшиеся события остаются pending.
	Paused bool
}

// Worker публикует pending-события рынка в брокер.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		logger:         opts.Logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: max(opts.RetryBaseDelay, 0),
		now:            opts.Clock,
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if res := w.ProcessOnce(ctx); res.DeadLettered > 0 {
			w.logger.WithFields(log.Fields{
				"sent":          res.Sent,
				"dead_lettered": res.DeadLettered,
			}).Warn("outbox batch finished with dead letters")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-событий.
// Событие, не ушедшее за maxAttempts попыток, уходит в DLQ и помечается failed.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}
	defer w.refreshBacklogMetrics(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}
	res.Pulled = len(events)

	for i, event := range events {
		if ctx.Err() != nil {
			return res
		}
		if w.circuitOpen() {
			outboxPublishTotal.WithLabelValues(event.EventType, resultCircuitOpen).Inc()
			w.logger.WithField("pending", len(events)-i).Warn("outbox publishing paused: circuit is open")
			res.Paused = true
			return res
		}

		logger := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
			"aggregate":  event.AggregateType + ":" + event.AggregateID,
		})

		publishErr := w.publishWithRetry(ctx, event)
		if publishErr == nil {
			res.Sent++
			if err := w.repo.MarkSent(ctx, event.ID); err != nil {
				logger.WithError(err).Warn("failed to mark outbox message as sent")
			}
			continue
		}
		if ctx.Err() != nil {
			return res
		}

		logger.WithError(publishErr).Error("outbox publish failed after retries")
		w.deadLetter(ctx, event, publishErr, logger)
		res.DeadLettered++
	}
	return res
}

func (w *Worker) circuitOpen() bool {
	state, ok := w.publisher.(circuitState)
	return ok && state.Open()
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			outboxPublishTotal.WithLabelValues(event.EventType, resultSent).Inc()
			return nil
		}
		outboxPublishTotal.WithLabelValues(event.EventType, resultRetry).Inc()

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.retryBackoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

// deadLetter отправляет событие в DLQ и снимает его с очереди. Без DLQ publisher событие
// всё равно помечается failed, чтобы одно битое событие не блокировало остальные.
func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, cause error, logger *log.Entry) {
	if w.dlqPublisher != nil {
		if err := w.publishToDLQ(event, cause); err != nil {
			outboxPublishTotal.WithLabelValues(event.EventType, resultDLQFailed).Inc()
			logger.WithError(err).Warn("failed to publish to DLQ")
		} else {
			outboxPublishTotal.WithLabelValues(event.EventType, resultDeadLetter).Inc()
		}
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox message as failed")
	}
}

func (w *Worker) publishToDLQ(event domain.OutboxMessage, cause error) error {
	msg, err := messaging.NewDeadLetterMessage(event, cause, w.now())
	if err != nil {
		return err
	}
	if err := w.dlqPublisher.Publish(msg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}
	outboxOldestPendingAge.Set(max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0))
}

// retryBackoff возвращает паузу после attempt-й неудачной попытки: base, 2*base, 4*base...
// не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}
