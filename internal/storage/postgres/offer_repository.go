package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const offerColumns = `id, title, description, price, quantity, seller_id, seller_name, seller_camp, status, created_at`

type offerRepository struct {
	q Querier
}

// NewOfferRepository создаёт PostgreSQL-реализацию OfferRepository.
func NewOfferRepository(q Querier) domain.OfferRepository {
	return &offerRepository{q: q}
}

func (r *offerRepository) Create(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.q.QueryRow(ctx, `
		INSERT INTO offers (
			title, description, price, quantity, seller_id, seller_name, seller_camp, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`,
		offer.Title, offer.Description, offer.Price, offer.Quantity,
		offer.SellerID, offer.SellerName, string(offer.SellerCamp),
		string(offer.Status), offer.CreatedAt,
	).Scan(&offer.ID)
	if err != nil {
		if isForeignKeyViolation(err) && constraintOf(err) == constraintOffersSeller {
			return domain.Offer{}, domain.ErrProfileNotFound
		}
		return domain.Offer{}, wrapDBError("insert offer", err)
	}

	return offer, nil
}

func (r *offerRepository) Get(ctx context.Context, id int64) (domain.Offer, error) {
	return r.getOne(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
}

// GetForUpdate держит эксклюзивную блокировку строки до конца транзакции.
// Параллельная покупка того же предложения ждёт здесь и затем видит уже SOLD.
func (r *offerRepository) GetForUpdate(ctx context.Context, id int64) (domain.Offer, error) {
	return r.getOne(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id)
}

func (r *offerRepository) getOne(ctx context.Context, query string, id int64) (domain.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	offer, err := scanOffer(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errNoRows(err) {
			return domain.Offer{}, domain.ErrOfferNotFound
		}
		return domain.Offer{}, wrapDBError("get offer", err)
	}
	return offer, nil
}

func (r *offerRepository) ListActive(ctx context.Context, page domain.Page) ([]domain.Offer, error) {
	page = page.Normalize()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, string(domain.OfferStatusCreated), page.Limit, page.Offset)
	if err != nil {
		return nil, wrapDBError("list offers", err)
	}
	defer rows.Close()

	result := make([]domain.Offer, 0, page.Limit)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, wrapDBError("scan offer", err)
		}
		result = append(result, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate offers", err)
	}

	return result, nil
}

func (r *offerRepository) UpdateGuarded(ctx context.Context, grant domain.OfferGrant, patch domain.OfferPatch) (domain.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	offer, err := scanOffer(r.q.QueryRow(ctx, `
		UPDATE offers
		SET title = COALESCE($4, title),
		    description = COALESCE($5, description),
		    price = COALESCE($6, price),
		    quantity = COALESCE($7, quantity)
		WHERE id = $1 AND seller_id = $2 AND status = $3
		RETURNING `+offerColumns,
		grant.OfferID, grant.SellerID, string(grant.ExpectedStatus),
		patch.Title, patch.Description, patch.Price, patch.Quantity,
	))
	if err != nil {
		if errNoRows(err) {
			return domain.Offer{}, domain.ErrOfferConflict
		}
		return domain.Offer{}, wrapDBError("update offer", err)
	}

	return offer, nil
}

func (r *offerRepository) DeleteGuarded(ctx context.Context, grant domain.OfferGrant) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		DELETE FROM offers
		WHERE id = $1 AND seller_id = $2 AND status = $3
	`, grant.OfferID, grant.SellerID, string(grant.ExpectedStatus))
	if err != nil {
		return wrapDBError("delete offer", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOfferConflict
	}

	return nil
}

// MarkSold делает условную запись: статус меняется, только если строка всё ещё CREATED.
func (r *offerRepository) MarkSold(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		UPDATE offers
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, string(domain.OfferStatusSold), string(domain.OfferStatusCreated))
	if err != nil {
		return wrapDBError("mark offer sold", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOfferNotActive
	}

	return nil
}

func scanOffer(row pgx.Row) (domain.Offer, error) {
	var (
		offer  domain.Offer
		camp   string
		status string
	)
	if err := row.Scan(
		&offer.ID,
		&offer.Title,
		&offer.Description,
		&offer.Price,
		&offer.Quantity,
		&offer.SellerID,
		&offer.SellerName,
		&camp,
		&status,
		&offer.CreatedAt,
	); err != nil {
		return domain.Offer{}, err
	}
	offer.SellerCamp = domain.Camp(camp)
	offer.Status = domain.OfferStatus(status)
	offer.CreatedAt = offer.CreatedAt.UTC()
	return offer, nil
}

var _ domain.OfferRepository = (*offerRepository)(nil)
