package domain

import "time"

const (
	AggregateOffer   = "offer"
	AggregateOrder   = "order"
	AggregateCourier = "courier"
)

// Типы событий, которые рынок пишет в outbox.
const (
	EventOfferCreated   = "offer.created"
	EventOfferUpdated   = "offer.updated"
	EventOfferDeleted   = "offer.deleted"
	EventOrderCreated   = "order.created"
	EventCourierCreated = "courier.created"
	EventCourierDeleted = "courier.deleted"
)

// OutboxStatus задаёт состояние сообщения. Переходы только pending -> sent и pending -> failed.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
