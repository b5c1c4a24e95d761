package memory

import (
	"context"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type profileRepository struct {
	b binding
}

func (r profileRepository) Create(_ context.Context, profile domain.Profile) (domain.Profile, error) {
	err := r.b.run(func(st *state) error {
		// Повторный профиль пользователя важнее занятого имени, независимо от порядка обхода map.
		for _, p := range st.profiles {
			if p.UserID == profile.UserID {
				return domain.ErrProfileExists
			}
		}
		for _, p := range st.profiles {
			if p.Name == profile.Name {
				return domain.ErrProfileNameTaken
			}
		}
		if err := checkCourierRef(st, profile.DefaultCourierID); err != nil {
			return err
		}
		st.profileSeq++
		profile.ID = st.profileSeq
		profile.DefaultCourierID = cloneID(profile.DefaultCourierID)
		st.profiles[profile.ID] = profile
		return nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (r profileRepository) GetByUserID(_ context.Context, userID string) (domain.Profile, error) {
	var found domain.Profile
	err := r.b.run(func(st *state) error {
		for _, p := range st.profiles {
			if p.UserID == userID {
				found = p
				found.DefaultCourierID = cloneID(p.DefaultCourierID)
				return nil
			}
		}
		return domain.ErrProfileNotFound
	})
	return found, err
}

func (r profileRepository) Update(_ context.Context, profile domain.Profile) (domain.Profile, error) {
	err := r.b.run(func(st *state) error {
		current, ok := st.profiles[profile.ID]
		if !ok {
			return domain.ErrProfileNotFound
		}
		for id, p := range st.profiles {
			if id != profile.ID && p.Name == profile.Name {
				return domain.ErrProfileNameTaken
			}
		}
		if err := checkCourierRef(st, profile.DefaultCourierID); err != nil {
			return err
		}
		current.Name = profile.Name
		current.Camp = profile.Camp
		current.DefaultCourierID = cloneID(profile.DefaultCourierID)
		st.profiles[profile.ID] = current
		profile = current
		return nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func checkCourierRef(st *state, id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := st.couriers[*id]; !ok {
		return domain.ErrCourierNotFound
	}
	return nil
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

var _ domain.ProfileRepository = profileRepository{}
