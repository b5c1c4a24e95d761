package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type offerRepository struct {
	b binding
}

func (r offerRepository) Create(_ context.Context, offer domain.Offer) (domain.Offer, error) {
	err := r.b.run(func(st *state) error {
		if _, ok := st.profiles[offer.SellerID]; !ok {
			return domain.ErrProfileNotFound
		}
		st.offerSeq++
		offer.ID = st.offerSeq
		offer.Description = cloneText(offer.Description)
		st.offers[offer.ID] = offer
		return nil
	})
	if err != nil {
		return domain.Offer{}, err
	}
	return offer, nil
}

func (r offerRepository) Get(_ context.Context, id int64) (domain.Offer, error) {
	var found domain.Offer
	err := r.b.run(func(st *state) error {
		o, ok := st.offers[id]
		if !ok {
			return domain.ErrOfferNotFound
		}
		found = o
		found.Description = cloneText(o.Description)
		return nil
	})
	return found, err
}

// GetForUpdate в памяти не отличается от Get: транзакции и так идут по очереди.
func (r offerRepository) GetForUpdate(ctx context.Context, id int64) (domain.Offer, error) {
	return r.Get(ctx, id)
}

func (r offerRepository) ListActive(_ context.Context, page domain.Page) ([]domain.Offer, error) {
	page = page.Normalize()
	var result []domain.Offer
	err := r.b.run(func(st *state) error {
		active := make([]domain.Offer, 0, len(st.offers))
		for _, o := range st.offers {
			if o.Status == domain.OfferStatusCreated {
				o.Description = cloneText(o.Description)
				active = append(active, o)
			}
		}
		sort.Slice(active, func(i, j int) bool {
			if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
				return active[i].CreatedAt.After(active[j].CreatedAt)
			}
			return active[i].ID > active[j].ID
		})
		result = paginate(active, page)
		return nil
	})
	return result, err
}

func (r offerRepository) UpdateGuarded(_ context.Context, grant domain.OfferGrant, patch domain.OfferPatch) (domain.Offer, error) {
	var updated domain.Offer
	err := r.b.run(func(st *state) error {
		current, ok := st.offers[grant.OfferID]
		if !ok || !grantMatches(grant, current) {
			return domain.ErrOfferConflict
		}
		updated = patch.Apply(current)
		st.offers[grant.OfferID] = updated
		updated.Description = cloneText(updated.Description)
		return nil
	})
	if err != nil {
		return domain.Offer{}, err
	}
	return updated, nil
}

func (r offerRepository) DeleteGuarded(_ context.Context, grant domain.OfferGrant) error {
	return r.b.run(func(st *state) error {
		current, ok := st.offers[grant.OfferID]
		if !ok || !grantMatches(grant, current) {
			return domain.ErrOfferConflict
		}
		delete(st.offers, grant.OfferID)
		return nil
	})
}

func (r offerRepository) MarkSold(_ context.Context, id int64) error {
	return r.b.run(func(st *state) error {
		current, ok := st.offers[id]
		if !ok || current.Status != domain.OfferStatusCreated {
			return domain.ErrOfferNotActive
		}
		current.Status = domain.OfferStatusSold
		st.offers[id] = current
		return nil
	})
}

func grantMatches(grant domain.OfferGrant, offer domain.Offer) bool {
	return offer.SellerID == grant.SellerID && offer.Status == grant.ExpectedStatus
}

func cloneText(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

var _ domain.OfferRepository = offerRepository{}
