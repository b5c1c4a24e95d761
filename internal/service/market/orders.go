package market

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
)

// CreateOrderRequest описывает покупку предложения с доставкой выбранным курьером.
type CreateOrderRequest struct {
	OfferID   int64
	CourierID int64
}

// CreateOrder выкупает предложение: закрывает его и создаёт заказ в одной транзакции.
// Из всех одновременных покупок одного предложения успешна ровно одна,
// остальные получают domain.ErrOfferNotActive.
func (s *Service) CreateOrder(ctx context.Context, caller *identity.Principal, req CreateOrderRequest) (order domain.Order, err error) {
	finish := s.metrics.SettlementStarted()
	defer func() { finish(resultLabel(err)) }()

	ctx, span := s.tracer.Start(ctx, "market.CreateOrder", trace.WithAttributes(
		attribute.Int64("offer.id", req.OfferID),
		attribute.Int64("courier.id", req.CourierID),
	))
	defer span.End()

	if req.OfferID <= 0 || req.CourierID <= 0 {
		return domain.Order{}, invalid(errors.New("offer and courier ids must be positive"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.settlementTimeout)
	defer cancel()

	err = s.uow.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		buyer, err := tx.Profiles().GetByUserID(ctx, caller.UserID())
		if err != nil {
			return err
		}

		offer, err := tx.Offers().GetForUpdate(ctx, req.OfferID)
		if err != nil {
			return err
		}
		if offer.Status != domain.OfferStatusCreated {
			return domain.ErrOfferNotActive
		}
		if offer.SellerID == buyer.ID {
			return domain.ErrCannotBuyOwnOffer
		}
		if _, err := tx.Couriers().LockShared(ctx, req.CourierID); err != nil {
			return err
		}

		if err := tx.Offers().MarkSold(ctx, offer.ID); err != nil {
			return err
		}
		order, err = tx.Orders().Create(ctx, domain.NewOrderFromOffer(offer, buyer, req.CourierID, s.now()))
		if err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.AggregateOrder, order.ID, domain.EventOrderCreated, newOrderEvent(order))
	})
	if err != nil {
		err = settlementError(ctx, err)
		if !isDomainError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "settlement failed")
		}
		s.logFailure("create_order", err, log.Fields{"offer_id": req.OfferID, "courier_id": req.CourierID})
		return domain.Order{}, err
	}
	s.recordEnqueued(domain.EventOrderCreated)

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"offer_id":  order.OfferID,
		"buyer_id":  order.BuyerID,
		"seller_id": order.SellerID,
	}).Info("order settled")
	return order, nil
}

// settlementError превращает истёкший дедлайн расчёта в повторяемую ошибку.
func settlementError(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}

// ListOrders возвращает заказы вызывающего: купленные, проданные или все.
func (s *Service) ListOrders(ctx context.Context, caller *identity.Principal, view domain.OrderView, page domain.Page) ([]domain.Order, error) {
	if view == "" {
		view = domain.OrderViewAll
	}
	if !view.Valid() {
		return nil, invalid(fmt.Errorf("unknown order view %q", view))
	}
	profile, err := caller.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return s.reads.Orders().List(ctx, domain.OrderFilter{
		ProfileID: profile.ID,
		View:      view,
		Page:      page.Normalize(),
	})
}
