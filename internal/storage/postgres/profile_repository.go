package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type profileRepository struct {
	q Querier
}

// NewProfileRepository создаёт PostgreSQL-реализацию ProfileRepository.
func NewProfileRepository(q Querier) domain.ProfileRepository {
	return &profileRepository{q: q}
}

func (r *profileRepository) Create(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.q.QueryRow(ctx, `
		INSERT INTO profiles (user_id, name, camp, default_courier_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, profile.UserID, profile.Name, string(profile.Camp), profile.DefaultCourierID).Scan(&profile.ID)
	if err != nil {
		if mapped := mapProfileWriteError(err); mapped != nil {
			return domain.Profile{}, mapped
		}
		return domain.Profile{}, wrapDBError("insert profile", err)
	}

	return profile, nil
}

func (r *profileRepository) GetByUserID(ctx context.Context, userID string) (domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		profile domain.Profile
		camp    string
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, name, camp, default_courier_id
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&profile.ID, &profile.UserID, &profile.Name, &camp, &profile.DefaultCourierID)
	if err != nil {
		if errNoRows(err) {
			return domain.Profile{}, domain.ErrProfileNotFound
		}
		return domain.Profile{}, wrapDBError("get profile", err)
	}
	profile.Camp = domain.Camp(camp)

	return profile, nil
}

func (r *profileRepository) Update(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `
		UPDATE profiles
		SET name = $2,
		    camp = $3,
		    default_courier_id = $4
		WHERE id = $1
	`, profile.ID, profile.Name, string(profile.Camp), profile.DefaultCourierID)
	if err != nil {
		if mapped := mapProfileWriteError(err); mapped != nil {
			return domain.Profile{}, mapped
		}
		return domain.Profile{}, wrapDBError("update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Profile{}, domain.ErrProfileNotFound
	}

	return profile, nil
}

func mapProfileWriteError(err error) error {
	switch {
	case isUniqueViolation(err) && constraintOf(err) == constraintProfilesUserID:
		return domain.ErrProfileExists
	case isUniqueViolation(err) && constraintOf(err) == constraintProfilesName:
		return domain.ErrProfileNameTaken
	case isForeignKeyViolation(err) && constraintOf(err) == constraintProfilesDefaultCourier:
		return domain.ErrCourierNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %w", domain.ErrProfileNameTaken, err)
	default:
		return nil
	}
}

var _ domain.ProfileRepository = (*profileRepository)(nil)
