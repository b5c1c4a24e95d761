// Package rabbitmq публикует события outbox в topic exchange RabbitMQ.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging"
)

const (
	DefaultExchange       = "bazaar.market"
	DefaultDeadLetterKey  = "dlq"
	defaultPublishTimeout = 5 * time.Second
)

// Channel покрывает часть amqp.Channel, нужную паблишеру.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher отправляет outbox-сообщения в exchange с routing key, равным типу события.
type Publisher struct {
	channel    Channel
	exchange   string
	routingKey string
	timeout    time.Duration
	logger     *log.Entry
}

// Connection держит соединение и канал, открытые Dial.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial подключается к RabbitMQ и объявляет durable topic exchange.
func Dial(url, exchange string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Connection{conn: conn, channel: ch}, nil
}

// Channel возвращает открытый канал.
func (c *Connection) Channel() Channel {
	return c.channel
}

// Close закрывает канал и соединение.
func (c *Connection) Close() error {
	return errors.Join(c.channel.Close(), c.conn.Close())
}

// NewPublisher создаёт паблишер. Пустой routingKey означает "тип события".
func NewPublisher(channel Channel, exchange, routingKey string, logger *log.Entry) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}
	return &Publisher{
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		timeout:    defaultPublishTimeout,
		logger:     logger,
	}
}

func (p *Publisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.channel == nil {
		return errors.New("rabbitmq publisher is not initialized")
	}

	now := time.Now()
	envelope := messaging.NewEnvelope(event, now)
	body, err := envelope.Marshal()
	if err != nil {
		return err
	}

	key := p.routingKey
	if key == "" {
		key = event.EventType
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.EventType,
		Timestamp:    now,
		Headers: amqp.Table{
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
		},
		Body: body,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"exchange":    p.exchange,
			"routing_key": key,
			"message_id":  event.ID,
		}).Error("failed to publish message to rabbitmq")
		return fmt.Errorf("%w: %w", domain.ErrOutboxPublish, err)
	}

	p.logger.WithFields(log.Fields{
		"exchange":    p.exchange,
		"routing_key": key,
		"message_id":  event.ID,
	}).Debug("message sent to rabbitmq")
	return nil
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
