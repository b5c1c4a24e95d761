package messaging

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

func TestDeadLetter_RoundTripThroughEnvelope(t *testing.T) {
	created := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	failedAt := created.Add(time.Minute)
	original := domain.OutboxMessage{
		ID:            "m-7",
		AggregateType: domain.AggregateOffer,
		AggregateID:   "15",
		EventType:     domain.EventOfferCreated,
		Payload:       []byte(`{"offer_id":15,"price":10}`),
		CreatedAt:     created,
	}

	dlqMsg, err := NewDeadLetterMessage(original, errors.New("broker unavailable"), failedAt)
	require.NoError(t, err)
	require.Equal(t, domain.EventOfferCreated+DeadLetterSuffix, dlqMsg.EventType)
	require.Equal(t, original.ID, dlqMsg.ID)
	require.True(t, IsDeadLetterType(dlqMsg.EventType))

	body, err := NewEnvelope(dlqMsg, failedAt).Marshal()
	require.NoError(t, err)
	env, err := ParseEnvelope(body)
	require.NoError(t, err)

	dl, err := ParseDeadLetter(env)
	require.NoError(t, err)
	require.Equal(t, "broker unavailable", dl.PublishError)
	require.True(t, dl.DeadLetteredAt.Equal(failedAt))

	restored := dl.Original(env.OccurredAt)
	require.Equal(t, original.ID, restored.ID)
	require.Equal(t, original.AggregateType, restored.AggregateType)
	require.Equal(t, original.AggregateID, restored.AggregateID)
	require.Equal(t, original.EventType, restored.EventType)
	require.JSONEq(t, string(original.Payload), string(restored.Payload))
	require.True(t, restored.CreatedAt.Equal(created))
}

func TestParseDeadLetter_Rejects(t *testing.T) {
	t.Run("regular event", func(t *testing.T) {
		_, err := ParseDeadLetter(Envelope{EventType: domain.EventOrderCreated, Payload: json.RawMessage(`{}`)})
		require.ErrorIs(t, err, ErrNotDeadLetter)
	})
	t.Run("broken payload", func(t *testing.T) {
		_, err := ParseDeadLetter(Envelope{EventType: domain.EventOrderCreated + DeadLetterSuffix, Payload: json.RawMessage(`"text"`)})
		require.Error(t, err)
	})
	t.Run("no original payload", func(t *testing.T) {
		_, err := ParseDeadLetter(Envelope{EventType: domain.EventOrderCreated + DeadLetterSuffix, Payload: json.RawMessage(`{"publish_error":"x"}`)})
		require.ErrorIs(t, err, ErrDeadLetterEmpty)
	})
}

func TestParseDeadLetter_FillsMissingFieldsFromEnvelope(t *testing.T) {
	env := Envelope{
		ID:            "m-9",
		AggregateType: domain.AggregateCourier,
		AggregateID:   "3",
		EventType:     domain.EventCourierDeleted + DeadLetterSuffix,
		Payload:       json.RawMessage(`{"payload":{"courier_id":3}}`),
	}

	dl, err := ParseDeadLetter(env)
	require.NoError(t, err)
	require.Equal(t, "m-9", dl.OutboxID)
	require.Equal(t, domain.AggregateCourier, dl.AggregateType)
	require.Equal(t, "3", dl.AggregateID)
	require.Equal(t, domain.EventCourierDeleted, dl.EventType)
}
