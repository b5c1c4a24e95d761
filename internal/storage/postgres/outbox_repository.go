package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const defaultOutboxPullLimit = 100

type outboxRepository struct {
	q   Querier
	now func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// Внутри UnitOfWork сообщение пишется в той же транзакции, что и бизнес-изменение.
func NewOutboxRepository(q Querier) domain.OutboxRepository {
	return &outboxRepository{q: q, now: func() time.Time { return time.Now().UTC() }}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	if _, err := r.q.Exec(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		domain.OutboxStatusPending, msg.CreatedAt, now,
	); err != nil {
		return domain.OutboxMessage{}, wrapDBError("enqueue outbox message", err)
	}
	return msg, nil
}

// PullPending читает самые старые pending-сообщения по частичному индексу outbox_messages_pending_idx.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, domain.OutboxStatusPending, limit)
	if err != nil {
		return nil, wrapDBError("pull pending outbox messages", err)
	}
	// Порядок колонок совпадает с порядком полей domain.OutboxMessage.
	messages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.OutboxMessage])
	if err != nil {
		return nil, wrapDBError("read pending outbox messages", err)
	}
	return messages, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest pgtype.Timestamptz
	)
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`,
		domain.OutboxStatusPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, wrapDBError("outbox stats", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, domain.OutboxStatusSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, domain.OutboxStatusFailed)
}

// finish переводит pending-сообщение в конечный статус. Повторный вызов не меняет строку.
func (r *outboxRepository) finish(ctx context.Context, id string, status domain.OutboxStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, status, r.now(), domain.OutboxStatusPending)
	if err != nil {
		return wrapDBError("mark outbox message "+string(status), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOutboxMessageNotPending
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
