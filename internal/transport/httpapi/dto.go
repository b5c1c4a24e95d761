package httpapi

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

type createOfferRequest struct {
	Title       string  `json:"title" validate:"required,min=5,max=20"`
	Description *string `json:"description" validate:"omitempty,min=5,max=200"`
	Price       int64   `json:"price" validate:"required,min=1,max=999"`
	Quantity    int32   `json:"quantity" validate:"required,min=1,max=99"`
}

func (r createOfferRequest) toDraft() domain.OfferDraft {
	return domain.OfferDraft{
		Title:       r.Title,
		Description: r.Description,
		Price:       r.Price,
		Quantity:    r.Quantity,
	}
}

type updateOfferRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=5,max=20"`
	Description *string `json:"description" validate:"omitempty,min=5,max=200"`
	Price       *int64  `json:"price" validate:"omitempty,min=1,max=999"`
	Quantity    *int32  `json:"quantity" validate:"omitempty,min=1,max=99"`
}

func (r updateOfferRequest) toPatch() domain.OfferPatch {
	return domain.OfferPatch{
		Title:       r.Title,
		Description: r.Description,
		Price:       r.Price,
		Quantity:    r.Quantity,
	}
}

type offerResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Price       int64     `json:"price"`
	Quantity    int32     `json:"quantity"`
	SellerID    int64     `json:"sellerId"`
	SellerName  string    `json:"sellerName"`
	SellerCamp  string    `json:"sellerCamp"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newOfferResponse(o domain.Offer) offerResponse {
	return offerResponse{
		ID:          o.ID,
		Title:       o.Title,
		Description: o.Description,
		Price:       o.Price,
		Quantity:    o.Quantity,
		SellerID:    o.SellerID,
		SellerName:  o.SellerName,
		SellerCamp:  string(o.SellerCamp),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
	}
}

type createOrderRequest struct {
	OfferID   int64 `json:"offerId" validate:"required,gt=0"`
	CourierID int64 `json:"courierId" validate:"required,gt=0"`
}

type orderResponse struct {
	ID          int64     `json:"id"`
	OfferID     int64     `json:"offerId"`
	CourierID   int64     `json:"courierId"`
	BuyerID     int64     `json:"buyerId"`
	BuyerName   string    `json:"buyerName"`
	BuyerCamp   string    `json:"buyerCamp"`
	SellerID    int64     `json:"sellerId"`
	SellerName  string    `json:"sellerName"`
	SellerCamp  string    `json:"sellerCamp"`
	Price       int64     `json:"price"`
	Quantity    int32     `json:"quantity"`
	Title       string    `json:"title"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

func newOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		OfferID:     o.OfferID,
		CourierID:   o.CourierID,
		BuyerID:     o.BuyerID,
		BuyerName:   o.BuyerName,
		BuyerCamp:   string(o.BuyerCamp),
		SellerID:    o.SellerID,
		SellerName:  o.SellerName,
		SellerCamp:  string(o.SellerCamp),
		Price:       o.Price,
		Quantity:    o.Quantity,
		Title:       o.Title,
		DeliveredAt: o.DeliveredAt,
	}
}

type createCourierRequest struct {
	Name string `json:"name" validate:"required,min=5,max=20"`
	Camp string `json:"camp" validate:"required,oneof=OLD_CAMP NEW_CAMP SWAMP_CAMP"`
}

type courierResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Camp string `json:"camp"`
}

func newCourierResponse(c domain.Courier) courierResponse {
	return courierResponse{ID: c.ID, Name: c.Name, Camp: string(c.Camp)}
}

type createProfileRequest struct {
	Name             string `json:"name" validate:"required,min=5,max=50"`
	Camp             string `json:"camp" validate:"required,oneof=OLD_CAMP NEW_CAMP SWAMP_CAMP"`
	DefaultCourierID *int64 `json:"defaultCourierId" validate:"omitempty,gt=0"`
}

func (r createProfileRequest) toDraft() domain.ProfileDraft {
	return domain.ProfileDraft{
		Name:             r.Name,
		Camp:             domain.Camp(r.Camp),
		DefaultCourierID: r.DefaultCourierID,
	}
}

// nullableID различает отсутствующее поле и явный null.
type nullableID struct {
	Set   bool
	Value *int64
}

func (n *nullableID) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

type updateProfileRequest struct {
	Name             *string    `json:"name" validate:"omitempty,min=5,max=50"`
	Camp             *string    `json:"camp" validate:"omitempty,oneof=OLD_CAMP NEW_CAMP SWAMP_CAMP"`
	DefaultCourierID nullableID `json:"defaultCourierId" validate:"-"`
}

func (r updateProfileRequest) toPatch() domain.ProfilePatch {
	var patch domain.ProfilePatch
	patch.Name = r.Name
	if r.Camp != nil {
		camp := domain.Camp(*r.Camp)
		patch.Camp = &camp
	}
	if r.DefaultCourierID.Set {
		if r.DefaultCourierID.Value == nil {
			patch.ClearDefaultCourier = true
		} else {
			patch.DefaultCourierID = r.DefaultCourierID.Value
		}
	}
	return patch
}

type profileResponse struct {
	ID               int64  `json:"id"`
	UserID           string `json:"userId"`
	Name             string `json:"name"`
	Camp             string `json:"camp"`
	DefaultCourierID *int64 `json:"defaultCourierId"`
}

func newProfileResponse(p domain.Profile) profileResponse {
	return profileResponse{
		ID:               p.ID,
		UserID:           p.UserID,
		Name:             p.Name,
		Camp:             string(p.Camp),
		DefaultCourierID: p.DefaultCourierID,
	}
}

type pageQuery struct {
	Limit  int `json:"limit" validate:"min=1,max=100"`
	Offset int `json:"offset" validate:"min=0"`
}

func (q pageQuery) toPage() domain.Page {
	return domain.Page{Limit: q.Limit, Offset: q.Offset}
}

func mapSlice[S, D any](src []S, fn func(S) D) []D {
	out := make([]D, 0, len(src))
	for _, v := range src {
		out = append(out, fn(v))
	}
	return out
}
