package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

func TestUnitOfWork_CommitsOnSuccess(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE offers").
		WithArgs(int64(1), "SOLD", "CREATED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = NewUnitOfWork(mock).Do(context.Background(), func(ctx context.Context, tx domain.Repositories) error {
		return tx.Offers().MarkSold(ctx, 1)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_RollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE offers").
		WithArgs(int64(1), "SOLD", "CREATED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err = NewUnitOfWork(mock).Do(context.Background(), func(ctx context.Context, tx domain.Repositories) error {
		return tx.Offers().MarkSold(ctx, 1)
	})
	require.ErrorIs(t, err, domain.ErrOfferNotActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_BeginAndCommitErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	mock.ExpectBegin().WillReturnError(assert.AnError)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	uow := NewUnitOfWork(mock)
	noop := func(context.Context, domain.Repositories) error { return nil }

	err = uow.Do(context.Background(), noop)
	require.ErrorIs(t, err, assert.AnError)

	err = uow.Do(context.Background(), noop)
	require.ErrorIs(t, err, assert.AnError)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrapDBError(t *testing.T) {
	t.Parallel()

	require.NoError(t, wrapDBError("noop", nil))
	require.ErrorIs(t, wrapDBError("op", context.DeadlineExceeded), domain.ErrTimeout)
	require.ErrorIs(t, wrapDBError("op", context.DeadlineExceeded), context.DeadlineExceeded)

	err := wrapDBError("op", assert.AnError)
	require.ErrorIs(t, err, assert.AnError)
	require.NotErrorIs(t, err, domain.ErrTimeout)
}
