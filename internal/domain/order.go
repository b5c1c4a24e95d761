package domain

import "time"

// Order хранит неизменяемую запись о завершённой покупке.
// Данные покупателя и продавца копируются в момент расчёта и больше не обновляются.
type Order struct {
	ID         int64
	OfferID    int64
	CourierID  int64
	BuyerID    int64
	BuyerName  string
	BuyerCamp  Camp
	SellerID   int64
	SellerName string
	SellerCamp Camp
	Price      int64
	Quantity   int32
	Title      string
	// DeliveredAt фиксирует момент создания заказа.
	DeliveredAt time.Time
}

// NewOrderFromOffer собирает заказ по закрываемому предложению.
func NewOrderFromOffer(offer Offer, buyer Profile, courierID int64, now time.Time) Order {
	return Order{
		OfferID:     offer.ID,
		CourierID:   courierID,
		BuyerID:     buyer.ID,
		BuyerName:   buyer.Name,
		BuyerCamp:   buyer.Camp,
		SellerID:    offer.SellerID,
		SellerName:  offer.SellerName,
		SellerCamp:  offer.SellerCamp,
		Price:       offer.Price,
		Quantity:    offer.Quantity,
		Title:       offer.Title,
		DeliveredAt: now.UTC(),
	}
}

// OrderView задаёт, какие заказы профиля нужно вернуть.
type OrderView string

const (
	OrderViewBought OrderView = "bought"
	OrderViewSold   OrderView = "sold"
	OrderViewAll    OrderView = "all"
)

// Valid проверяет, что представление относится к поддерживаемым значениям.
func (v OrderView) Valid() bool {
	switch v {
	case OrderViewBought, OrderViewSold, OrderViewAll:
		return true
	default:
		return false
	}
}

// OrderFilter ограничивает выборку заказов одного профиля.
type OrderFilter struct {
	ProfileID int64
	View      OrderView
	Page      Page
}
