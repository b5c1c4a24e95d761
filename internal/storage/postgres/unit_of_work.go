package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

// UnitOfWork выполняет функцию в транзакции READ COMMITTED.
// Строки, прочитанные через FOR UPDATE, остаются заблокированными до коммита или отката.
type UnitOfWork struct {
	db     TxBeginner
	logger *log.Entry
}

// NewUnitOfWork создаёт транзакционный исполнитель.
func NewUnitOfWork(db TxBeginner) *UnitOfWork {
	return &UnitOfWork{
		db:     db,
		logger: log.WithField("component", "postgres-uow"),
	}
}

// Do открывает транзакцию, вызывает fn и коммитит её. Любая ошибка откатывает транзакцию.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) (err error) {
	tx, err := u.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapDBError("begin tx", err)
	}

	defer func() {
		if err == nil {
			return
		}
		// ctx может быть уже отменён, откат должен дойти до базы.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			u.logger.WithError(rbErr).Warn("failed to rollback transaction")
		}
	}()

	if err = fn(ctx, NewRepositories(tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return wrapDBError("commit tx", err)
	}

	return nil
}

type repositories struct {
	q Querier
}

// NewRepositories связывает все репозитории с одним Querier (пулом или транзакцией).
func NewRepositories(q Querier) domain.Repositories {
	return repositories{q: q}
}

func (r repositories) Profiles() domain.ProfileRepository { return NewProfileRepository(r.q) }
func (r repositories) Couriers() domain.CourierRepository { return NewCourierRepository(r.q) }
func (r repositories) Offers() domain.OfferRepository     { return NewOfferRepository(r.q) }
func (r repositories) Orders() domain.OrderRepository     { return NewOrderRepository(r.q) }
func (r repositories) Outbox() domain.OutboxRepository    { return NewOutboxRepository(r.q) }

var _ domain.UnitOfWork = (*UnitOfWork)(nil)

// errNoRows сужает проверку отсутствия строки до pgx.ErrNoRows.
func errNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
