package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     domain.OutboxStatus
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

type outboxRepository struct {
	b binding
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	err := r.b.run(func(st *state) error {
		st.outbox[msg.ID] = outboxRecord{
			msg:       msg,
			status:    domain.OutboxStatusPending,
			createdAt: msg.CreatedAt,
			updatedAt: now,
		}
		return nil
	})
	return msg, err
}

// PullPending возвращает до limit самых старых сообщений со статусом `pending`.
func (r outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var result []domain.OutboxMessage
	err := r.b.run(func(st *state) error {
		pending := make([]outboxRecord, 0)
		for _, rec := range st.outbox {
			if rec.status == domain.OutboxStatusPending {
				pending = append(pending, rec)
			}
		}
		sort.Slice(pending, func(i, j int) bool {
			if !pending[i].createdAt.Equal(pending[j].createdAt) {
				return pending[i].createdAt.Before(pending[j].createdAt)
			}
			return pending[i].msg.ID < pending[j].msg.ID
		})
		if len(pending) > limit {
			pending = pending[:limit]
		}
		result = make([]domain.OutboxMessage, 0, len(pending))
		for _, rec := range pending {
			result = append(result, rec.msg)
		}
		return nil
	})
	return result, err
}

func (r outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.b.run(func(st *state) error {
		for _, rec := range st.outbox {
			if rec.status != domain.OutboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.createdAt
			}
		}
		return nil
	})
	return stats, err
}

// MarkSent обновляет статус события после успешной публикации.
func (r outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxStatusFailed)
}

func (r outboxRepository) mark(id string, status domain.OutboxStatus) error {
	return r.b.run(func(st *state) error {
		rec, ok := st.outbox[id]
		if !ok || rec.status != domain.OutboxStatusPending {
			return domain.ErrOutboxMessageNotPending
		}
		rec.status = status
		rec.attemptCnt++
		rec.updatedAt = time.Now().UTC()
		st.outbox[id] = rec
		return nil
	})
}

var _ domain.OutboxRepository = outboxRepository{}
