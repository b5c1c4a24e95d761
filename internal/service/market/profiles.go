package market

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
)

// CreateProfile создаёт профиль вызывающего. Один профиль на пользователя, имена уникальны.
func (s *Service) CreateProfile(ctx context.Context, caller *identity.Principal, draft domain.ProfileDraft) (domain.Profile, error) {
	profile := domain.Profile{
		UserID:           caller.UserID(),
		Name:             strings.TrimSpace(draft.Name),
		Camp:             draft.Camp,
		DefaultCourierID: draft.DefaultCourierID,
	}
	if err := validateProfile(profile); err != nil {
		return domain.Profile{}, err
	}

	created, err := s.reads.Profiles().Create(ctx, profile)
	if err != nil {
		s.logFailure("create_profile", err, log.Fields{"user_id": caller.UserID()})
		return domain.Profile{}, err
	}
	return created, nil
}

// GetMyProfile возвращает профиль вызывающего.
func (s *Service) GetMyProfile(ctx context.Context, caller *identity.Principal) (domain.Profile, error) {
	return caller.Profile(ctx)
}

// UpdateMyProfile меняет имя, лагерь или курьера по умолчанию.
// Снимки имени и лагеря в существующих предложениях и заказах не обновляются.
func (s *Service) UpdateMyProfile(ctx context.Context, caller *identity.Principal, patch domain.ProfilePatch) (domain.Profile, error) {
	if patch.Empty() {
		return domain.Profile{}, invalid(errEmptyPatch)
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		patch.Name = &name
	}

	var updated domain.Profile
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Repositories) error {
		current, err := tx.Profiles().GetByUserID(ctx, caller.UserID())
		if err != nil {
			return err
		}
		next := patch.Apply(current)
		if err := validateProfile(next); err != nil {
			return err
		}
		updated, err = tx.Profiles().Update(ctx, next)
		return err
	})
	if err != nil {
		s.logFailure("update_profile", err, log.Fields{"user_id": caller.UserID()})
		return domain.Profile{}, err
	}
	return updated, nil
}

func validateProfile(p domain.Profile) error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("profile name is required"))
	}
	if !p.Camp.Valid() {
		errs = append(errs, domain.ErrCampInvalid)
	}
	if p.DefaultCourierID != nil && *p.DefaultCourierID <= 0 {
		errs = append(errs, errors.New("default courier id must be positive"))
	}
	if len(errs) > 0 {
		return invalid(errs...)
	}
	return nil
}
