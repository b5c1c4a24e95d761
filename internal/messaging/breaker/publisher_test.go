package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type countingPublisher struct {
	calls int
	err   error
}

func (p *countingPublisher) Publish(domain.OutboxMessage) error {
	p.calls++
	return p.err
}

func TestPublisher_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingPublisher{err: errors.New("broker down")}
	p := Wrap(inner, Settings{Name: "test", ConsecutiveFailures: 3, OpenTimeout: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		require.Error(t, p.Publish(domain.OutboxMessage{ID: "m"}))
	}
	require.Equal(t, gobreaker.StateOpen, p.State())

	err := p.Publish(domain.OutboxMessage{ID: "m"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
	require.Equal(t, 3, inner.calls)
}

func TestPublisher_HalfOpenRecovers(t *testing.T) {
	inner := &countingPublisher{err: errors.New("broker down")}
	p := Wrap(inner, Settings{Name: "test", ConsecutiveFailures: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenRequests: 1}, nil)

	require.Error(t, p.Publish(domain.OutboxMessage{ID: "m"}))
	require.Equal(t, gobreaker.StateOpen, p.State())

	time.Sleep(20 * time.Millisecond)
	inner.err = nil

	require.NoError(t, p.Publish(domain.OutboxMessage{ID: "m"}))
	require.Equal(t, gobreaker.StateClosed, p.State())
}

func TestPublisher_PassesThrough(t *testing.T) {
	inner := &countingPublisher{}
	p := Wrap(inner, DefaultSettings("ok"), nil)

	require.NoError(t, p.Publish(domain.OutboxMessage{ID: "m"}))
	require.Equal(t, 1, inner.calls)
	require.Equal(t, gobreaker.StateClosed, p.State())
}
