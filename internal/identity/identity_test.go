package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type stubProfiles struct {
	domain.ProfileRepository
	calls    int
	profiles map[string]domain.Profile
}

func (s *stubProfiles) GetByUserID(_ context.Context, userID string) (domain.Profile, error) {
	s.calls++
	p, ok := s.profiles[userID]
	if !ok {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

type stubRoles struct {
	calls int
	roles map[string][]domain.Role
	err   error
}

func (s *stubRoles) RolesOf(_ context.Context, userID string) ([]domain.Role, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.roles[userID], nil
}

func TestPrincipal_MemoizesProfileAndRoles(t *testing.T) {
	profiles := &stubProfiles{profiles: map[string]domain.Profile{"u-1": {ID: 1, UserID: "u-1", Name: "Diego"}}}
	roles := &stubRoles{roles: map[string][]domain.Role{"u-1": {domain.RoleCourierAdmin}}}
	resolver := NewResolver(profiles, roles)

	p, err := resolver.Principal(" u-1 ")
	require.NoError(t, err)
	require.Equal(t, "u-1", p.UserID())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		profile, err := p.Profile(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), profile.ID)

		set, err := p.Roles(ctx)
		require.NoError(t, err)
		require.True(t, set.Has(domain.RoleCourierAdmin))
	}
	require.Equal(t, 1, profiles.calls)
	require.Equal(t, 1, roles.calls)
}

func TestResolver_Failures(t *testing.T) {
	unreachable := errors.New("connection refused")
	resolver := NewResolver(&stubProfiles{}, &stubRoles{err: unreachable})
	ctx := context.Background()

	_, err := resolver.Profile(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrProfileNotFound)

	_, err = resolver.HasRole(ctx, "ghost", domain.RoleCourierAdmin)
	require.ErrorIs(t, err, domain.ErrAuthCheckFailed)
	require.ErrorIs(t, err, unreachable)

	_, err = resolver.Principal("   ")
	require.ErrorIs(t, err, ErrAnonymous)
}

func TestResolver_HasRole(t *testing.T) {
	resolver := NewResolver(&stubProfiles{}, &stubRoles{roles: map[string][]domain.Role{"admin": {domain.RoleCourierAdmin}}})
	ctx := context.Background()

	ok, err := resolver.HasRole(ctx, "admin", domain.RoleCourierAdmin)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = resolver.HasRole(ctx, "user", domain.RoleCourierAdmin)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	require.False(t, ok)

	p, err := NewResolver(&stubProfiles{}, &stubRoles{}).Principal("u-1")
	require.NoError(t, err)

	got, ok := PrincipalFromContext(WithPrincipal(context.Background(), p))
	require.True(t, ok)
	require.Same(t, p, got)
}
