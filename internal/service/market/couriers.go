package market

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
)

// ListCouriers возвращает курьеров по возрастанию id.
func (s *Service) ListCouriers(ctx context.Context, page domain.Page) ([]domain.Courier, error) {
	return s.reads.Couriers().List(ctx, page.Normalize())
}

// GetCourier возвращает курьера или domain.ErrCourierNotFound.
func (s *Service) GetCourier(ctx context.Context, id int64) (domain.Courier, error) {
	return s.reads.Couriers().Get(ctx, id)
}

// CreateCourier добавляет курьера. Доступно только обладателю роли domain.RoleCourierAdmin.
func (s *Service) CreateCourier(ctx context.Context, caller *identity.Principal, courier domain.Courier) (created domain.Courier, err error) {
	defer func() { s.metrics.RecordCourierMutation("create", resultLabel(err)) }()

	if err := s.requireCourierAdmin(ctx, caller); err != nil {
		return domain.Courier{}, err
	}

	courier.Name = strings.TrimSpace(courier.Name)
	var errs []error
	if courier.Name == "" {
		errs = append(errs, errors.New("courier name is required"))
	}
	if !courier.Camp.Valid() {
		errs = append(errs, domain.ErrCampInvalid)
	}
	if len(errs) > 0 {
		return domain.Courier{}, invalid(errs...)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		created, err = tx.Couriers().Create(ctx, courier)
		if err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.AggregateCourier, created.ID, domain.EventCourierCreated, courierEvent{
			CourierID:  created.ID,
			Name:       created.Name,
			Camp:       string(created.Camp),
			ActorID:    caller.UserID(),
			OccurredAt: s.now().UTC(),
		})
	})
	if err != nil {
		s.logFailure("create_courier", err, log.Fields{"name": courier.Name})
		return domain.Courier{}, err
	}
	s.recordEnqueued(domain.EventCourierCreated)
	return created, nil
}

// DeleteCourier удаляет курьера, если на него не ссылается ни один заказ.
// Профили, выбравшие его курьером по умолчанию, теряют эту ссылку.
func (s *Service) DeleteCourier(ctx context.Context, caller *identity.Principal, id int64) (err error) {
	defer func() { s.metrics.RecordCourierMutation("delete", resultLabel(err)) }()

	if err := s.requireCourierAdmin(ctx, caller); err != nil {
		return err
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Couriers().Delete(ctx, id); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.AggregateCourier, id, domain.EventCourierDeleted, courierEvent{
			CourierID:  id,
			ActorID:    caller.UserID(),
			OccurredAt: s.now().UTC(),
		})
	})
	if err != nil {
		s.logFailure("delete_courier", err, log.Fields{"courier_id": id})
		return err
	}
	s.recordEnqueued(domain.EventCourierDeleted)

	s.logger.WithFields(log.Fields{"courier_id": id, "actor": caller.UserID()}).Info("courier deleted")
	return nil
}

func (s *Service) requireCourierAdmin(ctx context.Context, caller *identity.Principal) error {
	roles, err := caller.Roles(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", caller.UserID()).Error("role lookup failed")
		return err
	}
	return RequireRole(roles, domain.RoleCourierAdmin)
}
