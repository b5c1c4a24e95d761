package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type courierRepository struct {
	q Querier
}

// NewCourierRepository создаёт PostgreSQL-реализацию CourierRepository.
func NewCourierRepository(q Querier) domain.CourierRepository {
	return &courierRepository{q: q}
}

func (r *courierRepository) Create(ctx context.Context, courier domain.Courier) (domain.Courier, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.q.QueryRow(ctx, `
		INSERT INTO couriers (name, camp)
		VALUES ($1, $2)
		RETURNING id
	`, courier.Name, string(courier.Camp)).Scan(&courier.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Courier{}, domain.ErrCourierNameTaken
		}
		return domain.Courier{}, wrapDBError("insert courier", err)
	}

	return courier, nil
}

func (r *courierRepository) Get(ctx context.Context, id int64) (domain.Courier, error) {
	return r.getOne(ctx, `SELECT id, name, camp FROM couriers WHERE id = $1`, id)
}

// LockShared берёт FOR KEY SHARE: курьера нельзя удалить, пока транзакция не завершится,
// но параллельные покупки с тем же курьером не блокируют друг друга.
func (r *courierRepository) LockShared(ctx context.Context, id int64) (domain.Courier, error) {
	return r.getOne(ctx, `SELECT id, name, camp FROM couriers WHERE id = $1 FOR KEY SHARE`, id)
}

func (r *courierRepository) getOne(ctx context.Context, query string, id int64) (domain.Courier, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	courier, err := scanCourier(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errNoRows(err) {
			return domain.Courier{}, domain.ErrCourierNotFound
		}
		return domain.Courier{}, wrapDBError("get courier", err)
	}
	return courier, nil
}

func (r *courierRepository) List(ctx context.Context, page domain.Page) ([]domain.Courier, error) {
	page = page.Normalize()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.Query(ctx, `
		SELECT id, name, camp
		FROM couriers
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, wrapDBError("list couriers", err)
	}
	defer rows.Close()

	result := make([]domain.Courier, 0, page.Limit)
	for rows.Next() {
		courier, err := scanCourier(rows)
		if err != nil {
			return nil, wrapDBError("scan courier", err)
		}
		result = append(result, courier)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate couriers", err)
	}

	return result, nil
}

// Delete полагается на внешний ключ orders_courier_fk: 23503 означает, что курьер используется.
func (r *courierRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `DELETE FROM couriers WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCourierInUse
		}
		return wrapDBError("delete courier", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCourierNotFound
	}

	return nil
}

func scanCourier(row pgx.Row) (domain.Courier, error) {
	var (
		courier domain.Courier
		camp    string
	)
	if err := row.Scan(&courier.ID, &courier.Name, &camp); err != nil {
		return domain.Courier{}, err
	}
	courier.Camp = domain.Camp(camp)
	return courier, nil
}

var _ domain.CourierRepository = (*courierRepository)(nil)
