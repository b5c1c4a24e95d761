package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestPublisher_RoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	publisher := NewPublisher(ch, "", "", nil)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "m-1",
		AggregateType: domain.AggregateCourier,
		AggregateID:   "5",
		EventType:     domain.EventCourierCreated,
		Payload:       []byte(`{"courier_id":5}`),
	})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	require.Equal(t, DefaultExchange, got.exchange)
	require.Equal(t, domain.EventCourierCreated, got.key)
	require.Equal(t, "m-1", got.msg.MessageId)
	require.Equal(t, amqp.Persistent, got.msg.DeliveryMode)

	env, err := messaging.ParseEnvelope(got.msg.Body)
	require.NoError(t, err)
	require.Equal(t, "courier:5", env.Key())
}

func TestPublisher_FixedRoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	publisher := NewPublisher(ch, "bazaar.dead", DefaultDeadLetterKey, nil)

	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "m-2", EventType: domain.EventOfferCreated}))
	require.Equal(t, DefaultDeadLetterKey, ch.published[0].key)
	require.Equal(t, "bazaar.dead", ch.published[0].exchange)
}

func TestPublisher_Errors(t *testing.T) {
	publisher := NewPublisher(&fakeChannel{err: errors.New("channel closed")}, "", "", nil)
	require.ErrorIs(t, publisher.Publish(domain.OutboxMessage{ID: "m-3"}), domain.ErrOutboxPublish)

	var nilPublisher *Publisher
	require.Error(t, nilPublisher.Publish(domain.OutboxMessage{ID: "m-4"}))
}
