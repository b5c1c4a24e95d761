// Package market реализует сценарии рынка: предложения, курьеров, профили и расчёт заказов.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/metrics"
)

const (
	defaultSettlementTimeout = 5 * time.Second
	tracerName               = "github.com/vladislavdragonenkov/bazaar/internal/service/market"
)

var errEmptyPatch = errors.New("nothing to update")

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger            *log.Entry
	Metrics           *metrics.MarketMetrics
	SettlementTimeout time.Duration
	Clock             func() time.Time
	Tracer            trace.Tracer
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт коллекторы prometheus.
func WithMetrics(m *metrics.MarketMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithSettlementTimeout ограничивает длительность транзакции расчёта.
func WithSettlementTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.SettlementTimeout = timeout
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithTracer задаёт tracer OpenTelemetry.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// Service реализует сценарии рынка поверх unit of work и репозиториев.
type Service struct {
	uow     domain.UnitOfWork
	reads   domain.Repositories
	logger  *log.Entry
	metrics *metrics.MarketMetrics
	tracer  trace.Tracer
	now     func() time.Time

	settlementTimeout time.Duration
}

// NewService создаёт сервис. reads используется для чтения вне транзакций.
func NewService(uow domain.UnitOfWork, reads domain.Repositories, options ...Option) *Service {
	opts := Options{SettlementTimeout: defaultSettlementTimeout}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "market-service")
	}
	if opts.SettlementTimeout <= 0 {
		opts.SettlementTimeout = defaultSettlementTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Service{
		uow:               uow,
		reads:             reads,
		logger:            logger,
		metrics:           opts.Metrics,
		tracer:            tracer,
		now:               clock,
		settlementTimeout: opts.SettlementTimeout,
	}
}

// enqueue пишет событие в outbox той же транзакции.
func (s *Service) enqueue(ctx context.Context, tx domain.Repositories, aggregate string, id int64, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregate,
		AggregateID:   strconv.FormatInt(id, 10),
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

// recordEnqueued учитывает событие после коммита.
func (s *Service) recordEnqueued(eventType string) {
	s.metrics.RecordOutboxEnqueued(eventType)
}

// logFailure пишет в лог ошибки, которые не относятся к предметной области.
func (s *Service) logFailure(op string, err error, fields log.Fields) {
	if err == nil || isDomainError(err) {
		return
	}
	s.logger.WithFields(fields).WithError(err).WithField("op", op).Error("market operation failed")
}

func invalid(errs ...error) error {
	return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, errors.Join(errs...))
}

// isDomainError отделяет ожидаемые отказы от сбоев инфраструктуры.
func isDomainError(err error) bool {
	return domain.IsNotFound(err) ||
		domain.IsConflict(err) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrCannotBuyOwnOffer)
}

// resultLabel превращает ошибку в значение label "result" для метрик.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, domain.ErrProfileNotFound):
		return "no_profile"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrOfferNotFound):
		return "offer_not_found"
	case errors.Is(err, domain.ErrOfferNotActive):
		return "offer_not_active"
	case errors.Is(err, domain.ErrOfferConflict):
		return "conflict"
	case errors.Is(err, domain.ErrCannotBuyOwnOffer):
		return "own_offer"
	case errors.Is(err, domain.ErrCourierNotFound):
		return "courier_not_found"
	case errors.Is(err, domain.ErrCourierInUse):
		return "courier_in_use"
	case errors.Is(err, domain.ErrCourierNameTaken):
		return "name_taken"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	default:
		return metrics.ResultError
	}
}
