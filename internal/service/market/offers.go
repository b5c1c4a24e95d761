package market

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
)

// CreateOffer выставляет предложение от имени профиля вызывающего.
func (s *Service) CreateOffer(ctx context.Context, caller *identity.Principal, draft domain.OfferDraft) (offer domain.Offer, err error) {
	defer func() { s.metrics.RecordOfferMutation("create", resultLabel(err)) }()

	seller, err := caller.Profile(ctx)
	if err != nil {
		return domain.Offer{}, err
	}

	offer = domain.NewOffer(seller, draft, s.now())
	if errs := offer.ValidateInvariants(); len(errs) > 0 {
		return domain.Offer{}, invalid(errs...)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		created, err := tx.Offers().Create(ctx, offer)
		if err != nil {
			return err
		}
		offer = created
		return s.enqueue(ctx, tx, domain.AggregateOffer, created.ID, domain.EventOfferCreated, newOfferEvent(created, s.now()))
	})
	if err != nil {
		s.logFailure("create_offer", err, log.Fields{"seller_id": seller.ID})
		return domain.Offer{}, err
	}
	s.recordEnqueued(domain.EventOfferCreated)

	s.logger.WithFields(log.Fields{"offer_id": offer.ID, "seller_id": seller.ID}).Info("offer created")
	return offer, nil
}

// GetOffer возвращает предложение в любом статусе.
func (s *Service) GetOffer(ctx context.Context, id int64) (domain.Offer, error) {
	return s.reads.Offers().Get(ctx, id)
}

// ListOffers возвращает активные предложения, новые первыми.
func (s *Service) ListOffers(ctx context.Context, page domain.Page) ([]domain.Offer, error) {
	return s.reads.Offers().ListActive(ctx, page.Normalize())
}

// UpdateOffer меняет предложение, пока оно принадлежит вызывающему и не продано.
func (s *Service) UpdateOffer(ctx context.Context, caller *identity.Principal, id int64, patch domain.OfferPatch) (updated domain.Offer, err error) {
	defer func() { s.metrics.RecordOfferMutation("update", resultLabel(err)) }()

	if patch.Empty() {
		return domain.Offer{}, invalid(errEmptyPatch)
	}
	patch = patch.Normalize()
	profile, err := caller.Profile(ctx)
	if err != nil {
		return domain.Offer{}, err
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		current, err := tx.Offers().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		grant, err := AuthorizeOfferMutation(profile.ID, current)
		if err != nil {
			return err
		}

		next := patch.Apply(current)
		if errs := next.ValidateInvariants(); len(errs) > 0 {
			return invalid(errs...)
		}

		updated, err = tx.Offers().UpdateGuarded(ctx, grant, patch)
		if err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.AggregateOffer, updated.ID, domain.EventOfferUpdated, newOfferEvent(updated, s.now()))
	})
	if err != nil {
		s.logFailure("update_offer", err, log.Fields{"offer_id": id})
		return domain.Offer{}, err
	}
	s.recordEnqueued(domain.EventOfferUpdated)
	return updated, nil
}

// DeleteOffer удаляет непроданное предложение вызывающего.
func (s *Service) DeleteOffer(ctx context.Context, caller *identity.Principal, id int64) (err error) {
	defer func() { s.metrics.RecordOfferMutation("delete", resultLabel(err)) }()

	profile, err := caller.Profile(ctx)
	if err != nil {
		return err
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		current, err := tx.Offers().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		grant, err := AuthorizeOfferMutation(profile.ID, current)
		if err != nil {
			return err
		}
		if err := tx.Offers().DeleteGuarded(ctx, grant); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.AggregateOffer, id, domain.EventOfferDeleted, offerEvent{
			OfferID:    id,
			SellerID:   profile.ID,
			OccurredAt: s.now().UTC(),
		})
	})
	if err != nil {
		s.logFailure("delete_offer", err, log.Fields{"offer_id": id})
		return err
	}
	s.recordEnqueued(domain.EventOfferDeleted)

	s.logger.WithFields(log.Fields{"offer_id": id, "seller_id": profile.ID}).Info("offer deleted")
	return nil
}
