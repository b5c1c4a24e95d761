package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Длина названия предложения в символах после обрезки пробелов.
const (
	MinOfferTitleLen = 5
	MaxOfferTitleLen = 20
)

// OfferStatus описывает жизненный цикл предложения.
type OfferStatus string

const (
	// OfferStatusCreated единственный начальный статус: предложение можно менять и покупать.
	OfferStatusCreated OfferStatus = "CREATED"
	// OfferStatusSold означает, что предложение выкуплено. Статус терминальный.
	OfferStatusSold OfferStatus = "SOLD"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusCreated, OfferStatusSold:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OfferStatus) IsTerminal() bool {
	return s != OfferStatusCreated
}

// Offer описывает выставленное продавцом предложение.
// SellerName и SellerCamp фиксируются при создании и не обновляются вслед за профилем.
type Offer struct {
	ID          int64
	Title       string
	Description *string
	Price       int64
	Quantity    int32
	SellerID    int64
	SellerName  string
	SellerCamp  Camp
	Status      OfferStatus
	CreatedAt   time.Time
}

// OfferDraft содержит данные для создания предложения.
type OfferDraft struct {
	Title       string
	Description *string
	Price       int64
	Quantity    int32
}

// NewOffer собирает предложение в статусе CREATED со снимком данных продавца.
func NewOffer(seller Profile, draft OfferDraft, now time.Time) Offer {
	return Offer{
		Title:       strings.TrimSpace(draft.Title),
		Description: cloneString(draft.Description),
		Price:       draft.Price,
		Quantity:    draft.Quantity,
		SellerID:    seller.ID,
		SellerName:  seller.Name,
		SellerCamp:  seller.Camp,
		Status:      OfferStatusCreated,
		CreatedAt:   now.UTC(),
	}
}

// ValidateInvariants проверяет базовые инварианты предложения и возвращает список замечаний.
func (o *Offer) ValidateInvariants() []error {
	var errs []error

	if n := utf8.RuneCountInString(o.Title); n == 0 {
		errs = append(errs, ErrOfferTitleRequired)
	} else if n < MinOfferTitleLen || n > MaxOfferTitleLen {
		errs = append(errs, ErrOfferTitleLength)
	}
	if o.Price <= 0 {
		errs = append(errs, ErrOfferPriceInvalid)
	}
	if o.Quantity <= 0 {
		errs = append(errs, ErrOfferQtyInvalid)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOfferStatusInvalid)
	}

	return errs
}

// OfferPatch описывает частичное обновление предложения.
// Меняться могут только название, описание, цена и количество.
type OfferPatch struct {
	Title       *string
	Description *string
	Price       *int64
	Quantity    *int32
}

// Empty сообщает, что патч ничего не меняет.
func (p OfferPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil && p.Quantity == nil
}

// Normalize возвращает патч с обрезанным названием; в хранилище уходит именно он.
func (p OfferPatch) Normalize() OfferPatch {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		p.Title = &title
	}
	return p
}

// Apply возвращает копию предложения с применёнными изменениями.
func (p OfferPatch) Apply(offer Offer) Offer {
	if p.Title != nil {
		offer.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		offer.Description = cloneString(p.Description)
	}
	if p.Price != nil {
		offer.Price = *p.Price
	}
	if p.Quantity != nil {
		offer.Quantity = *p.Quantity
	}
	return offer
}

// OfferGrant разрешает ровно одну запись в строку предложения,
// пока оно принадлежит SellerID и находится в ExpectedStatus.
type OfferGrant struct {
	OfferID        int64
	SellerID       int64
	ExpectedStatus OfferStatus
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
