package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

func newTestRepository(t *testing.T) (*IdempotencyRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewIdempotencyRepository(client), mr
}

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	created, err := repo.CreateProcessing(ctx, "u-1:key-1", "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	got, err := repo.Get(ctx, "u-1:key-1")
	require.NoError(t, err)
	require.Equal(t, "hash-1", got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusProcessing, got.Status)

	ttl := mr.TTL(keyPrefix + "u-1:key-1")
	require.Greater(t, ttl, 59*time.Minute)
	require.LessOrEqual(t, ttl, time.Hour)
}

func TestIdempotencyRepository_Conflicts(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	_, err := repo.CreateProcessing(ctx, "key", "hash-1", time.Time{})
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, "key", "hash-1", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	existing, err := repo.CreateProcessing(ctx, "key", "hash-2", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Equal(t, "hash-1", existing.RequestHash)

	_, err = repo.CreateProcessing(ctx, " ", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "key-2", "", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRepository_MarkDoneKeepsTTL(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	_, err := repo.CreateProcessing(ctx, "key", "hash", time.Now().Add(2*time.Hour))
	require.NoError(t, err)

	require.NoError(t, repo.MarkDone(ctx, "key", []byte(`{"id":1}`), 201))

	got, err := repo.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.JSONEq(t, `{"id":1}`, string(got.ResponseBody))
	require.Greater(t, mr.TTL(keyPrefix+"key"), time.Hour)

	require.NoError(t, repo.MarkFailed(ctx, "key", []byte(`{"error":"x"}`), 409))
	got, err = repo.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)

	require.ErrorIs(t, repo.MarkDone(ctx, "missing", nil, 200), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ExpiresNatively(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	_, err := repo.CreateProcessing(ctx, "key", "hash", time.Now().Add(time.Minute))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = repo.Get(ctx, "key")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	removed, err := repo.DeleteExpired(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Open(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = Open(context.Background(), mr.Addr(), "", 0)
	require.Error(t, err)
}

func TestIdempotencyRepository_Release(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	_, err := repo.CreateProcessing(ctx, "pending", "hash", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, "pending"))
	require.False(t, mr.Exists(keyPrefix+"pending"))

	_, err = repo.CreateProcessing(ctx, "done", "hash", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDone(ctx, "done", []byte(`{}`), 201))
	require.NoError(t, repo.Release(ctx, "done"))
	require.True(t, mr.Exists(keyPrefix+"done"))

	require.NoError(t, repo.Release(ctx, "missing"))
}
