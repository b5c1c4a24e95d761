package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	idempotencyColumns    = "key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at"
)

// idempotencyRow повторяет строку idempotency_keys; http_status и response_body пусты, пока запрос в обработке.
type idempotencyRow struct {
	Key          string    `db:"key"`
	RequestHash  string    `db:"request_hash"`
	ResponseBody []byte    `db:"response_body"`
	HTTPStatus   *int32    `db:"http_status"`
	Status       string    `db:"status"`
	TTLAt        time.Time `db:"ttl_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row idempotencyRow) record() (domain.IdempotencyRecord, error) {
	status := domain.IdempotencyStatus(row.Status)
	if !status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", row.Status, row.Key)
	}
	record := domain.IdempotencyRecord{
		Key:          row.Key,
		RequestHash:  row.RequestHash,
		ResponseBody: row.ResponseBody,
		Status:       status,
		TTLAt:        row.TTLAt.UTC(),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.HTTPStatus != nil {
		record.HTTPStatus = int(*row.HTTPStatus)
	}
	return record, nil
}

type idempotencyRepository struct {
	q   Querier
	now func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(q Querier) domain.IdempotencyRepository {
	return &idempotencyRepository{q: q, now: func() time.Time { return time.Now().UTC() }}
}

// queryRecord выполняет запрос с RETURNING/SELECT idempotencyColumns и ждёт ровно одну строку.
func (r *idempotencyRepository) queryRecord(ctx context.Context, sql string, args ...any) (domain.IdempotencyRecord, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[idempotencyRow])
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return row.record()
}

// CreateProcessing занимает ключ. ON CONFLICT вместо перехвата 23505, потому что ошибка
// испортила бы транзакцию. Просроченный, но ещё не удалённый ключ занимается заново.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash = strings.TrimSpace(requestHash); requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := r.queryRecord(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			status = EXCLUDED.status,
			response_body = NULL,
			http_status = NULL,
			ttl_at = EXCLUDED.ttl_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING `+idempotencyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now)
	if err == nil {
		return record, nil
	}
	if !errNoRows(err) {
		return domain.IdempotencyRecord{}, wrapDBError("create idempotency record", err)
	}

	// Ни вставки, ни перезаписи: ключ жив и принадлежит другому запросу или его повтору.
	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	if key = strings.TrimSpace(key); key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := r.queryRecord(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key)
	switch {
	case errNoRows(err):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, wrapDBError("get idempotency record", err)
	}
	return record, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.complete(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// Release удаляет ключ только в статусе processing: сохранённый ответ переживает повторы.
func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND status = $2`,
		key, string(domain.IdempotencyStatusProcessing))
	return wrapDBError("release idempotency key", err)
}

// DeleteExpired удаляет до limit ключей с ttl_at <= before, самые старые первыми.
// LIMIT NULL в PostgreSQL снимает ограничение, поэтому limit <= 0 удаляет все.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT NULLIF($2, 0)
		)`, before, max(limit, 0))
	if err != nil {
		return 0, wrapDBError("delete expired idempotency records", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *idempotencyRepository) complete(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1`,
		key, string(status), responseBody, httpStatus, r.now())
	if err != nil {
		return wrapDBError("complete idempotency key", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
