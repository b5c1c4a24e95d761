package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type orderRepository struct {
	b binding
}

// Create эмулирует внешние ключи и уникальность orders.offer_id.
func (r orderRepository) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	err := r.b.run(func(st *state) error {
		if _, ok := st.offers[order.OfferID]; !ok {
			return domain.ErrOfferNotFound
		}
		if _, ok := st.couriers[order.CourierID]; !ok {
			return domain.ErrCourierNotFound
		}
		for _, o := range st.orders {
			if o.OfferID == order.OfferID {
				return domain.ErrOfferNotActive
			}
		}
		st.orderSeq++
		order.ID = st.orderSeq
		st.orders[order.ID] = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	page := filter.Page.Normalize()
	var result []domain.Order
	err := r.b.run(func(st *state) error {
		matched := make([]domain.Order, 0)
		for _, o := range st.orders {
			if orderVisible(o, filter) {
				matched = append(matched, o)
			}
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].DeliveredAt.Equal(matched[j].DeliveredAt) {
				return matched[i].DeliveredAt.After(matched[j].DeliveredAt)
			}
			return matched[i].ID > matched[j].ID
		})
		result = paginate(matched, page)
		return nil
	})
	return result, err
}

func orderVisible(o domain.Order, filter domain.OrderFilter) bool {
	switch filter.View {
	case domain.OrderViewBought:
		return o.BuyerID == filter.ProfileID
	case domain.OrderViewSold:
		return o.SellerID == filter.ProfileID
	default:
		return o.BuyerID == filter.ProfileID || o.SellerID == filter.ProfileID
	}
}

var _ domain.OrderRepository = orderRepository{}
