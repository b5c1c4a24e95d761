package market

import (
	"time"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type offerEvent struct {
	OfferID     int64     `json:"offer_id"`
	SellerID    int64     `json:"seller_id"`
	Title       string    `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Price       int64     `json:"price,omitempty"`
	Quantity    int32     `json:"quantity,omitempty"`
	Status      string    `json:"status,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func newOfferEvent(offer domain.Offer, at time.Time) offerEvent {
	return offerEvent{
		OfferID:     offer.ID,
		SellerID:    offer.SellerID,
		Title:       offer.Title,
		Description: offer.Description,
		Price:       offer.Price,
		Quantity:    offer.Quantity,
		Status:      string(offer.Status),
		OccurredAt:  at.UTC(),
	}
}

type orderEvent struct {
	OrderID    int64     `json:"order_id"`
	OfferID    int64     `json:"offer_id"`
	CourierID  int64     `json:"courier_id"`
	BuyerID    int64     `json:"buyer_id"`
	SellerID   int64     `json:"seller_id"`
	Price      int64     `json:"price"`
	Quantity   int32     `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newOrderEvent(order domain.Order) orderEvent {
	return orderEvent{
		OrderID:    order.ID,
		OfferID:    order.OfferID,
		CourierID:  order.CourierID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		Price:      order.Price,
		Quantity:   order.Quantity,
		OccurredAt: order.DeliveredAt,
	}
}

type courierEvent struct {
	CourierID  int64     `json:"courier_id"`
	Name       string    `json:"name,omitempty"`
	Camp       string    `json:"camp,omitempty"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
