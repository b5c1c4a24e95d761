package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

func newMockOutbox(t *testing.T, now time.Time) (pgxmock.PgxConnIface, *outboxRepository) {
	t.Helper()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, mock.ExpectationsWereMet()) })

	return mock, &outboxRepository{q: mock, now: func() time.Time { return now }}
}

func TestOutboxRepository_Finish(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending message", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockOutbox(t, now)
		mock.ExpectExec("UPDATE outbox_messages").
			WithArgs("m-1", domain.OutboxStatusSent, now, domain.OutboxStatusPending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.MarkSent(context.Background(), "m-1"))
	})

	t.Run("already final", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockOutbox(t, now)
		mock.ExpectExec("UPDATE outbox_messages").
			WithArgs("m-1", domain.OutboxStatusFailed, now, domain.OutboxStatusPending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		require.ErrorIs(t, repo.MarkFailed(context.Background(), "m-1"), domain.ErrOutboxMessageNotPending)
	})

	t.Run("database error", func(t *testing.T) {
		t.Parallel()
		mock, repo := newMockOutbox(t, now)
		mock.ExpectExec("UPDATE outbox_messages").
			WithArgs("m-1", domain.OutboxStatusSent, now, domain.OutboxStatusPending).
			WillReturnError(assert.AnError)

		err := repo.MarkSent(context.Background(), "m-1")
		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "mark outbox message sent")
	})
}

func TestOutboxRepository_PullPending(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock, repo := newMockOutbox(t, now)

	rows := pgxmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
		AddRow("m-1", domain.AggregateOffer, "7", domain.EventOfferCreated, []byte(`{"id":7}`), now.Add(-time.Minute)).
		AddRow("m-2", domain.AggregateOrder, "3", domain.EventOrderCreated, []byte(nil), now)
	mock.ExpectQuery("SELECT id, aggregate_type").
		WithArgs(domain.OutboxStatusPending, defaultOutboxPullLimit).
		WillReturnRows(rows)

	messages, err := repo.PullPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.OutboxMessage{
		ID:            "m-1",
		AggregateType: domain.AggregateOffer,
		AggregateID:   "7",
		EventType:     domain.EventOfferCreated,
		Payload:       []byte(`{"id":7}`),
		CreatedAt:     now.Add(-time.Minute),
	}, messages[0])
	assert.Equal(t, "m-2", messages[1].ID)
}

func TestOutboxRepository_EnqueueAssignsIDAndTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock, repo := newMockOutbox(t, now)
	mock.ExpectExec("INSERT INTO outbox_messages").
		WithArgs(pgxmock.AnyArg(), domain.AggregateCourier, "5", domain.EventCourierCreated, []byte(`{}`),
			domain.OutboxStatusPending, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateCourier,
		AggregateID:   "5",
		EventType:     domain.EventCourierCreated,
		Payload:       []byte(`{}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, now, msg.CreatedAt)
}
