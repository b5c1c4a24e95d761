package app

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging/breaker"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging/rabbitmq"
)

// publishers хранит основной и DLQ publisher для outbox worker.
type publishers struct {
	events domain.OutboxPublisher
	dlq    domain.OutboxPublisher
	close  func() error
}

// initPublishers подключается к выбранному брокеру.
// Для BrokerNone возвращает пустой набор: события копятся в outbox до подключения брокера.
func initPublishers(cfg Config, logger *log.Entry) (*publishers, error) {
	switch cfg.Broker {
	case BrokerNone, "":
		logger.Info("broker is disabled, outbox events stay pending")
		return &publishers{close: func() error { return nil }}, nil

	case BrokerKafka:
		brokers := cfg.KafkaBrokerList()
		producer, err := kafka.NewProducer(brokers, logger.WithField("layer", "kafka"))
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		logger.WithField("brokers", brokers).Info("kafka producer initialized")
		return &publishers{
			events: breaker.Wrap(producer.Topic(cfg.KafkaTopic), breaker.DefaultSettings("kafka-events"), logger),
			dlq:    producer.Topic(cfg.KafkaDLQTopic),
			close:  producer.Close,
		}, nil

	case BrokerRabbitMQ:
		conn, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, err
		}
		rmqLogger := logger.WithField("layer", "rabbitmq")
		logger.WithField("exchange", cfg.RabbitMQExchange).Info("rabbitmq publisher initialized")
		return &publishers{
			events: breaker.Wrap(rabbitmq.NewPublisher(conn.Channel(), cfg.RabbitMQExchange, "", rmqLogger), breaker.DefaultSettings("rabbitmq-events"), logger),
			dlq:    rabbitmq.NewPublisher(conn.Channel(), cfg.RabbitMQExchange, rabbitmq.DefaultDeadLetterKey, rmqLogger),
			close:  conn.Close,
		}, nil

	default:
		return nil, errors.New("unsupported broker " + cfg.Broker)
	}
}
