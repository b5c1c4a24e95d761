package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const orderColumns = `id, offer_id, courier_id, buyer_id, buyer_name, buyer_camp,
	seller_id, seller_name, seller_camp, price, quantity, title, delivered_at`

type orderRepository struct {
	q Querier
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(q Querier) domain.OrderRepository {
	return &orderRepository{q: q}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.q.QueryRow(ctx, `
		INSERT INTO orders (
			offer_id, courier_id, buyer_id, buyer_name, buyer_camp,
			seller_id, seller_name, seller_camp, price, quantity, title, delivered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`,
		order.OfferID, order.CourierID,
		order.BuyerID, order.BuyerName, string(order.BuyerCamp),
		order.SellerID, order.SellerName, string(order.SellerCamp),
		order.Price, order.Quantity, order.Title, order.DeliveredAt,
	).Scan(&order.ID)
	if err != nil {
		switch {
		case isUniqueViolation(err) && constraintOf(err) == constraintOrdersOfferUniq:
			return domain.Order{}, domain.ErrOfferNotActive
		case isForeignKeyViolation(err) && constraintOf(err) == constraintOrdersCourier:
			return domain.Order{}, domain.ErrCourierNotFound
		case isForeignKeyViolation(err) && constraintOf(err) == constraintOrdersOffer:
			return domain.Order{}, domain.ErrOfferNotFound
		}
		return domain.Order{}, wrapDBError("insert order", err)
	}

	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	page := filter.Page.Normalize()

	var where string
	switch filter.View {
	case domain.OrderViewBought:
		where = `buyer_id = $1`
	case domain.OrderViewSold:
		where = `seller_id = $1`
	default:
		where = `(buyer_id = $1 OR seller_id = $1)`
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE `+where+`
		ORDER BY delivered_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, filter.ProfileID, page.Limit, page.Offset)
	if err != nil {
		return nil, wrapDBError("list orders", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0, page.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapDBError("scan order", err)
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate orders", err)
	}

	return result, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order      domain.Order
		buyerCamp  string
		sellerCamp string
	)
	if err := row.Scan(
		&order.ID,
		&order.OfferID,
		&order.CourierID,
		&order.BuyerID,
		&order.BuyerName,
		&buyerCamp,
		&order.SellerID,
		&order.SellerName,
		&sellerCamp,
		&order.Price,
		&order.Quantity,
		&order.Title,
		&order.DeliveredAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.BuyerCamp = domain.Camp(buyerCamp)
	order.SellerCamp = domain.Camp(sellerCamp)
	order.DeliveredAt = order.DeliveredAt.UTC()
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
