package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	created := time.Date(2026, 4, 17, 10, 0, 0, 0, time.UTC)
	env := NewEnvelope(domain.OutboxMessage{
		ID:            "m-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "42",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"order_id":42}`),
		CreatedAt:     created,
	}, created.Add(time.Second))

	require.Equal(t, "order:42", env.Key())

	body, err := env.Marshal()
	require.NoError(t, err)

	parsed, err := ParseEnvelope(body)
	require.NoError(t, err)
	require.Equal(t, env.ID, parsed.ID)
	require.Equal(t, env.EventType, parsed.EventType)
	require.JSONEq(t, `{"order_id":42}`, string(parsed.Payload))
	require.True(t, parsed.OccurredAt.Equal(created))
}

func TestEnvelope_EmptyPayloadAndKey(t *testing.T) {
	env := NewEnvelope(domain.OutboxMessage{ID: "m-2"}, time.Now())
	require.Equal(t, "m-2", env.Key())

	body, err := env.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(body), `"payload":null`)

	_, err = ParseEnvelope([]byte("{"))
	require.Error(t, err)
}
