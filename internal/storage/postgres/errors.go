package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
	pgQueryCanceled       = "57014"
)

// Имена ограничений из миграций; по ним различаем причину нарушения.
const (
	constraintProfilesUserID         = "profiles_user_id_uniq"
	constraintProfilesName           = "profiles_name_uniq"
	constraintProfilesDefaultCourier = "profiles_default_courier_fk"
	constraintCouriersName           = "couriers_name_uniq"
	constraintOrdersOfferUniq        = "orders_offer_id_uniq"
	constraintOrdersOffer            = "orders_offer_fk"
	constraintOrdersCourier          = "orders_courier_fk"
	constraintOffersSeller           = "offers_seller_fk"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == pgForeignKeyViolation
}

func constraintOf(err error) string {
	if pgErr, ok := pgError(err); ok {
		return pgErr.ConstraintName
	}
	return ""
}

// wrapDBError превращает ошибки ожидания блокировки и дедлайна в domain.ErrTimeout,
// остальные оборачивает с контекстом операции.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := pgError(err); ok && (pgErr.Code == pgLockNotAvailable || pgErr.Code == pgQueryCanceled) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
