package market

import "github.com/vladislavdragonenkov/bazaar/internal/domain"

// AuthorizeOfferMutation решает, может ли профиль изменить или удалить предложение.
// Отсутствие предложения обрабатывает вызывающий код: сюда приходит уже прочитанная строка.
// Разрешение годится ровно для одной условной записи.
func AuthorizeOfferMutation(callerProfileID int64, offer domain.Offer) (domain.OfferGrant, error) {
	if offer.SellerID != callerProfileID {
		return domain.OfferGrant{}, domain.ErrForbidden
	}
	if offer.Status != domain.OfferStatusCreated {
		return domain.OfferGrant{}, domain.ErrOfferConflict
	}
	return domain.OfferGrant{
		OfferID:        offer.ID,
		SellerID:       offer.SellerID,
		ExpectedStatus: domain.OfferStatusCreated,
	}, nil
}

// RequireRole возвращает domain.ErrForbidden, если роли нет в наборе.
func RequireRole(roles domain.RoleSet, role domain.Role) error {
	if !roles.Has(role) {
		return domain.ErrForbidden
	}
	return nil
}
