package memory_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/storage/memory"
)

func seedSeller(t *testing.T, store *memory.Store) (domain.Profile, domain.Courier, domain.Offer) {
	t.Helper()
	ctx := context.Background()

	seller, err := store.Profiles().Create(ctx, domain.Profile{UserID: "u-seller", Name: "Diego", Camp: domain.CampOld})
	require.NoError(t, err)
	courier, err := store.Couriers().Create(ctx, domain.Courier{Name: "Buster", Camp: domain.CampOld})
	require.NoError(t, err)
	offer, err := store.Offers().Create(ctx, domain.NewOffer(seller, domain.OfferDraft{Title: "Bread", Price: 10, Quantity: 2}, time.Now()))
	require.NoError(t, err)
	return seller, courier, offer
}

func TestStore_DoRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, _, offer := seedSeller(t, store)

	boom := errors.New("boom")
	err := store.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		require.NoError(t, tx.Offers().MarkSold(ctx, offer.ID))
		_, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{EventType: "x"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Offers().Get(ctx, offer.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferStatusCreated, got.Status)

	stats, err := store.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestStore_DoRollsBackOnCanceledContext(t *testing.T) {
	store := memory.NewStore()
	_, _, offer := seedSeller(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	err := store.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		require.NoError(t, tx.Offers().MarkSold(ctx, offer.ID))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := store.Offers().Get(context.Background(), offer.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferStatusCreated, got.Status)
}

func TestStore_MarkSoldOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, _, offer := seedSeller(t, store)

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
				return tx.Offers().MarkSold(ctx, offer.ID)
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, domain.ErrOfferNotActive)
	}
	require.Equal(t, 1, successes)
}

func TestCourierRepository_DeleteSemantics(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, courier, offer := seedSeller(t, store)

	spare, err := store.Couriers().Create(ctx, domain.Courier{Name: "Scatty", Camp: domain.CampNew})
	require.NoError(t, err)

	_, err = store.Couriers().Create(ctx, domain.Courier{Name: "Scatty", Camp: domain.CampOld})
	require.ErrorIs(t, err, domain.ErrCourierNameTaken)

	buyer, err := store.Profiles().Create(ctx, domain.Profile{UserID: "u-buyer", Name: "Lares", Camp: domain.CampNew, DefaultCourierID: &spare.ID})
	require.NoError(t, err)

	_, err = store.Orders().Create(ctx, domain.NewOrderFromOffer(offer, buyer, courier.ID, time.Now()))
	require.NoError(t, err)

	require.ErrorIs(t, store.Couriers().Delete(ctx, courier.ID), domain.ErrCourierInUse)
	require.ErrorIs(t, store.Couriers().Delete(ctx, 999), domain.ErrCourierNotFound)

	require.NoError(t, store.Couriers().Delete(ctx, spare.ID))
	_, err = store.Couriers().Get(ctx, spare.ID)
	require.ErrorIs(t, err, domain.ErrCourierNotFound)

	reloaded, err := store.Profiles().GetByUserID(ctx, buyer.UserID)
	require.NoError(t, err)
	require.Nil(t, reloaded.DefaultCourierID)
}

func TestOfferRepository_GuardedWrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seller, _, offer := seedSeller(t, store)

	title := "Cheese"
	wrongSeller := domain.OfferGrant{OfferID: offer.ID, SellerID: seller.ID + 1, ExpectedStatus: domain.OfferStatusCreated}
	_, err := store.Offers().UpdateGuarded(ctx, wrongSeller, domain.OfferPatch{Title: &title})
	require.ErrorIs(t, err, domain.ErrOfferConflict)

	grant := domain.OfferGrant{OfferID: offer.ID, SellerID: seller.ID, ExpectedStatus: domain.OfferStatusCreated}
	updated, err := store.Offers().UpdateGuarded(ctx, grant, domain.OfferPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, "Cheese", updated.Title)

	require.NoError(t, store.Offers().MarkSold(ctx, offer.ID))
	require.ErrorIs(t, store.Offers().DeleteGuarded(ctx, grant), domain.ErrOfferConflict)

	active, err := store.Offers().ListActive(ctx, domain.Page{})
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestOrderRepository_ListViews(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seller, courier, offer := seedSeller(t, store)

	buyer, err := store.Profiles().Create(ctx, domain.Profile{UserID: "u-buyer", Name: "Lares", Camp: domain.CampNew})
	require.NoError(t, err)

	order, err := store.Orders().Create(ctx, domain.NewOrderFromOffer(offer, buyer, courier.ID, time.Now()))
	require.NoError(t, err)

	_, err = store.Orders().Create(ctx, domain.NewOrderFromOffer(offer, buyer, courier.ID, time.Now()))
	require.ErrorIs(t, err, domain.ErrOfferNotActive)

	bought, err := store.Orders().List(ctx, domain.OrderFilter{ProfileID: buyer.ID, View: domain.OrderViewBought})
	require.NoError(t, err)
	require.Equal(t, []domain.Order{order}, bought)

	sold, err := store.Orders().List(ctx, domain.OrderFilter{ProfileID: buyer.ID, View: domain.OrderViewSold})
	require.NoError(t, err)
	require.Empty(t, sold)

	all, err := store.Orders().List(ctx, domain.OrderFilter{ProfileID: seller.ID, View: domain.OrderViewAll})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestProfileRepository_ExistingUserWinsOverTakenName(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	for i, name := range []string{"Diego", "Milten", "Gorn", "Lester", "Lares", "Cord"} {
		_, err := store.Profiles().Create(ctx, domain.Profile{UserID: "u-" + strconv.Itoa(i), Name: name, Camp: domain.CampOld})
		require.NoError(t, err)
	}

	// Map order differs between runs; the answer must not.
	for range 50 {
		_, err := store.Profiles().Create(ctx, domain.Profile{UserID: "u-0", Name: "Cord", Camp: domain.CampOld})
		require.ErrorIs(t, err, domain.ErrProfileExists)
	}
}

func TestProfileRepository_Uniqueness(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	first, err := store.Profiles().Create(ctx, domain.Profile{UserID: "u-1", Name: "Diego", Camp: domain.CampOld})
	require.NoError(t, err)

	_, err = store.Profiles().Create(ctx, domain.Profile{UserID: "u-1", Name: "Other", Camp: domain.CampOld})
	require.ErrorIs(t, err, domain.ErrProfileExists)

	_, err = store.Profiles().Create(ctx, domain.Profile{UserID: "u-2", Name: "Diego", Camp: domain.CampOld})
	require.ErrorIs(t, err, domain.ErrProfileNameTaken)

	second, err := store.Profiles().Create(ctx, domain.Profile{UserID: "u-2", Name: "Milten", Camp: domain.CampNew})
	require.NoError(t, err)

	second.Name = first.Name
	_, err = store.Profiles().Update(ctx, second)
	require.ErrorIs(t, err, domain.ErrProfileNameTaken)

	missing := int64(42)
	second.Name = "Milten"
	second.DefaultCourierID = &missing
	_, err = store.Profiles().Update(ctx, second)
	require.ErrorIs(t, err, domain.ErrCourierNotFound)

	_, err = store.Profiles().GetByUserID(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestOutboxRepository_PullAndMark(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repo := store.Outbox()

	first, err := repo.Enqueue(ctx, domain.OutboxMessage{EventType: "offer.created", CreatedAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := repo.Enqueue(ctx, domain.OutboxMessage{EventType: "order.created"})
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, first.ID, pending[0].ID)

	require.NoError(t, repo.MarkSent(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, second.ID))
	require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxMessageNotPending)
	require.ErrorIs(t, repo.MarkFailed(ctx, first.ID), domain.ErrOutboxMessageNotPending, "sent is final")

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestRoles(t *testing.T) {
	store := memory.NewStore()
	store.GrantRole("u-1", domain.RoleCourierAdmin)
	store.GrantRole("u-1", domain.RoleCourierAdmin)

	roles, err := store.Roles().RolesOf(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, []domain.Role{domain.RoleCourierAdmin}, roles)

	roles, err = store.Roles().RolesOf(context.Background(), "u-2")
	require.NoError(t, err)
	require.Empty(t, roles)
}
