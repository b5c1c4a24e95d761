package domain

import "errors"

var (
	// ErrInvalidArgument оборачивает ошибки валидации входных данных.
	ErrInvalidArgument = errors.New("invalid argument")
	// Ошибка пустого названия предложения.
	ErrOfferTitleRequired = errors.New("offer title is required")
	ErrOfferTitleLength   = errors.New("offer title must be 5 to 20 characters")
	// Ошибка неположительной цены предложения.
	ErrOfferPriceInvalid = errors.New("offer price must be greater than zero")
	// Ошибка неположительного количества в предложении.
	ErrOfferQtyInvalid = errors.New("offer quantity must be greater than zero")
	// Ошибка неизвестного статуса предложения.
	ErrOfferStatusInvalid = errors.New("offer status is unknown")
	// Ошибка неизвестного лагеря.
	ErrCampInvalid = errors.New("camp is unknown")

	// ErrProfileNotFound возвращается, если у вызывающего нет профиля.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileExists возвращается при повторном создании профиля для того же пользователя.
	ErrProfileExists = errors.New("profile already exists")
	// ErrProfileNameTaken сигнализирует о занятом имени профиля.
	ErrProfileNameTaken = errors.New("profile name is already taken")

	// ErrOfferNotFound возвращается, если предложение не найдено.
	ErrOfferNotFound = errors.New("offer not found")
	// ErrOfferNotActive возвращается при покупке предложения не в статусе CREATED.
	ErrOfferNotActive = errors.New("offer is not active")
	// ErrOfferConflict возвращается при изменении уже закрытого предложения.
	ErrOfferConflict = errors.New("offer is no longer editable")
	// ErrCannotBuyOwnOffer: продавец пытается купить своё предложение.
	ErrCannotBuyOwnOffer = errors.New("cannot buy own offer")

	// ErrCourierNotFound возвращается, если курьер не найден.
	ErrCourierNotFound = errors.New("courier not found")
	// ErrCourierNameTaken сигнализирует о занятом имени курьера.
	ErrCourierNameTaken = errors.New("courier name is already taken")
	// ErrCourierInUse: курьер всё ещё указан хотя бы в одном заказе.
	ErrCourierInUse = errors.New("courier is referenced by orders")

	// ErrForbidden: у вызывающего нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrAuthCheckFailed: хранилище ролей недоступно.
	ErrAuthCheckFailed = errors.New("authorization check failed")
	// ErrTimeout: операция не успела завершиться, запрос можно повторить.
	ErrTimeout = errors.New("operation timed out")

	// ErrOutboxPublish возвращается при ошибке публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotPending: сообщения нет или оно уже помечено sent/failed.
	ErrOutboxMessageNotPending = errors.New("outbox message is not pending")
)

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrOfferNotFound) ||
		errors.Is(err, ErrCourierNotFound)
}

// IsConflict проверяет, является ли ошибка конфликтом состояния.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOfferNotActive) ||
		errors.Is(err, ErrOfferConflict) ||
		errors.Is(err, ErrCourierInUse) ||
		errors.Is(err, ErrCourierNameTaken) ||
		errors.Is(err, ErrProfileNameTaken) ||
		errors.Is(err, ErrProfileExists)
}
