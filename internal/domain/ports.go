package domain

import (
	"context"
	"time"
)

// ProfileRepository хранит профили пользователей.
type ProfileRepository interface {
	// Create сохраняет профиль; ErrProfileExists или ErrProfileNameTaken при нарушении уникальности.
	Create(ctx context.Context, profile Profile) (Profile, error)
	// GetByUserID возвращает профиль по внешнему идентификатору или ErrProfileNotFound.
	GetByUserID(ctx context.Context, userID string) (Profile, error)
	// Update перезаписывает изменяемые поля профиля.
	Update(ctx context.Context, profile Profile) (Profile, error)
}

// CourierRepository хранит курьеров.
type CourierRepository interface {
	Create(ctx context.Context, courier Courier) (Courier, error)
	Get(ctx context.Context, id int64) (Courier, error)
	// LockShared читает курьера и не даёт удалить его до конца транзакции.
	LockShared(ctx context.Context, id int64) (Courier, error)
	List(ctx context.Context, page Page) ([]Courier, error)
	// Delete удаляет курьера; ErrCourierNotFound если его нет, ErrCourierInUse если на него ссылаются заказы.
	Delete(ctx context.Context, id int64) error
}

// OfferRepository хранит предложения.
type OfferRepository interface {
	Create(ctx context.Context, offer Offer) (Offer, error)
	Get(ctx context.Context, id int64) (Offer, error)
	// GetForUpdate читает предложение под эксклюзивной блокировкой строки.
	GetForUpdate(ctx context.Context, id int64) (Offer, error)
	// ListActive возвращает предложения в статусе CREATED, новые первыми.
	ListActive(ctx context.Context, page Page) ([]Offer, error)
	// UpdateGuarded применяет патч, только если строка всё ещё соответствует разрешению.
	// Возвращает ErrOfferConflict, если ни одна строка не изменилась.
	UpdateGuarded(ctx context.Context, grant OfferGrant, patch OfferPatch) (Offer, error)
	// DeleteGuarded удаляет предложение на тех же условиях, что и UpdateGuarded.
	DeleteGuarded(ctx context.Context, grant OfferGrant) error
	// MarkSold переводит предложение CREATED -> SOLD; ErrOfferNotActive, если статус уже другой.
	MarkSold(ctx context.Context, id int64) error
}

// OrderRepository хранит заказы. Заказы только создаются.
type OrderRepository interface {
	Create(ctx context.Context, order Order) (Order, error)
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// RoleRepository отвечает на вопрос, какие роли выданы пользователю.
type RoleRepository interface {
	RolesOf(ctx context.Context, userID string) ([]Role, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по Idempotency-Key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ в статусе processing, чтобы запрос можно было повторить.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Repositories собирает репозитории, привязанные к одной транзакции.
type Repositories interface {
	Profiles() ProfileRepository
	Couriers() CourierRepository
	Offers() OfferRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
}

// UnitOfWork выполняет fn в одной транзакции.
// Любая ошибка fn или отмена ctx до коммита откатывает все изменения.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}
