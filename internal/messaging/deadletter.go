package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

// DeadLetterSuffix добавляется к типу события, ушедшего в DLQ.
const DeadLetterSuffix = ".dlq"

var (
	// ErrNotDeadLetter возвращается для конверта, который не пришёл из DLQ.
	ErrNotDeadLetter = errors.New("message is not a dead letter")
	// ErrDeadLetterEmpty возвращается, если в DLQ не сохранилось исходное тело события.
	ErrDeadLetterEmpty = errors.New("dead letter does not contain the original payload")
)

// DeadLetter хранит событие, которое outbox не смог опубликовать, вместе с причиной.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DeadLetteredAt time.Time       `json:"dlq_published_at"`
}

// IsDeadLetterType проверяет суффикс DLQ у типа события.
func IsDeadLetterType(eventType string) bool {
	return strings.HasSuffix(eventType, DeadLetterSuffix)
}

// NewDeadLetterMessage упаковывает неопубликованное событие в outbox-сообщение для DLQ.
// Идентификатор и агрегат сохраняются, чтобы DLQ партиционировался так же, как основной топик.
func NewDeadLetterMessage(msg domain.OutboxMessage, cause error, now time.Time) (domain.OutboxMessage, error) {
	dl := DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		DeadLetteredAt: now.UTC(),
	}
	if len(dl.Payload) == 0 {
		dl.Payload = json.RawMessage("null")
	}
	if cause != nil {
		dl.PublishError = cause.Error()
	}

	body, err := json.Marshal(dl)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", msg.ID, err)
	}
	return domain.OutboxMessage{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType + DeadLetterSuffix,
		Payload:       body,
		CreatedAt:     msg.CreatedAt,
	}, nil
}

// ParseDeadLetter достаёт DeadLetter из конверта, прочитанного из DLQ.
func ParseDeadLetter(env Envelope) (DeadLetter, error) {
	if !IsDeadLetterType(env.EventType) {
		return DeadLetter{}, fmt.Errorf("%w: event type %q", ErrNotDeadLetter, env.EventType)
	}
	var dl DeadLetter
	if err := json.Unmarshal(env.Payload, &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter payload: %w", err)
	}
	if len(dl.Payload) == 0 || string(dl.Payload) == "null" {
		return DeadLetter{}, ErrDeadLetterEmpty
	}

	// Старые записи могли не содержать полей агрегата, берём их из конверта.
	dl.OutboxID = firstNonBlank(dl.OutboxID, env.ID)
	dl.AggregateType = firstNonBlank(dl.AggregateType, env.AggregateType)
	dl.AggregateID = firstNonBlank(dl.AggregateID, env.AggregateID)
	dl.EventType = firstNonBlank(dl.EventType, strings.TrimSuffix(env.EventType, DeadLetterSuffix))
	return dl, nil
}

// Original восстанавливает исходное outbox-сообщение.
func (d DeadLetter) Original(occurredAt time.Time) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
		CreatedAt:     occurredAt,
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
