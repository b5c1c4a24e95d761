// Package kafka публикует события outbox в топики Kafka через sarama.
package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/messaging"
)

const (
	TopicMarketEvents    = "bazaar.market.events"
	TopicDeadLetterQueue = "bazaar.dlq"
)

// Заголовки записи дублируют поля конверта, чтобы consumer мог фильтровать без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderMessageID     = "x-message-id"
)

var errProducerClosed = errors.New("kafka producer is not initialized")

// Producer владеет одним sarama.SyncProducer, общим для всех топиков сервиса.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// NewProducer подключается к брокерам. Producer идемпотентный, поэтому
// повторы sarama не создают дублей внутри партиции.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "bazaar"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(sync, logger), nil
}

func newProducer(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger, now: time.Now}
}

// Topic возвращает паблишер outbox, пишущий в topic. Пустой topic означает TopicMarketEvents.
func (p *Producer) Topic(topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicMarketEvents
	}
	return &TopicPublisher{producer: p, topic: topic}
}

// Close закрывает соединение с брокерами; паблишеры топиков после этого не работают.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func (p *Producer) send(topic string, event domain.OutboxMessage) error {
	if p == nil || p.sync == nil {
		return errProducerClosed
	}

	now := p.now()
	env := messaging.NewEnvelope(event, now)
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	record := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(env.Key()),
		Value:     sarama.ByteEncoder(body),
		Timestamp: now,
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(event.EventType)},
			{Key: []byte(HeaderAggregateType), Value: []byte(event.AggregateType)},
			{Key: []byte(HeaderMessageID), Value: []byte(event.ID)},
		},
	}

	fields := log.Fields{"topic": topic, "key": env.Key(), "message_id": event.ID}
	partition, offset, err := p.sync.SendMessage(record)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("failed to send message to kafka")
		return fmt.Errorf("%w: %w", domain.ErrOutboxPublish, err)
	}
	p.logger.WithFields(fields).WithFields(log.Fields{
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

// TopicPublisher реализует domain.OutboxPublisher для одного топика.
type TopicPublisher struct {
	producer *Producer
	topic    string
}

func (t *TopicPublisher) Publish(event domain.OutboxMessage) error {
	if t == nil {
		return errProducerClosed
	}
	return t.producer.send(t.topic, event)
}

// Name возвращает топик, в который пишет паблишер.
func (t *TopicPublisher) Name() string {
	return t.topic
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)
