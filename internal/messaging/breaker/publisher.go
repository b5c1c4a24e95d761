// Package breaker защищает публикацию outbox circuit breaker'ом.
package breaker

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

// Settings задаёт пороги circuit breaker.
type Settings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Publisher пропускает вызовы к брокеру, пока тот отвечает, и быстро отказывает, когда он лежит.
type Publisher struct {
	next domain.OutboxPublisher
	cb   *gobreaker.CircuitBreaker
}

// Wrap оборачивает publisher.
func Wrap(next domain.OutboxPublisher, settings Settings, logger *log.Entry) *Publisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-breaker")
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	threshold := settings.ConsecutiveFailures

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &Publisher{next: next, cb: cb}
}

func (p *Publisher) Publish(event domain.OutboxMessage) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrOutboxPublish, err)
	}
	return err
}

// State возвращает текущее состояние breaker.
func (p *Publisher) State() gobreaker.State {
	return p.cb.State()
}

var _ domain.OutboxPublisher = (*Publisher)(nil)

// Open сообщает, что breaker сейчас отклоняет вызовы.
func (p *Publisher) Open() bool {
	return p.cb.State() == gobreaker.StateOpen
}
