// Package identity сопоставляет аутентифицированного вызывающего с профилем и ролями.
// Сама аутентификация выполняется снаружи; сюда приходит уже проверенный внешний идентификатор.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

// ErrAnonymous возвращается, если запрос пришёл без идентификатора пользователя.
var ErrAnonymous = errors.New("caller identity is missing")

// Resolver отвечает на вопросы "кто это" и "что ему можно".
type Resolver struct {
	profiles domain.ProfileRepository
	roles    domain.RoleRepository
}

// NewResolver создаёт резолвер поверх хранилищ профилей и ролей.
func NewResolver(profiles domain.ProfileRepository, roles domain.RoleRepository) *Resolver {
	return &Resolver{profiles: profiles, roles: roles}
}

// Profile возвращает профиль вызывающего или domain.ErrProfileNotFound.
func (r *Resolver) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	return r.profiles.GetByUserID(ctx, userID)
}

// Roles загружает набор ролей. Недоступность хранилища ролей превращается в domain.ErrAuthCheckFailed.
func (r *Resolver) Roles(ctx context.Context, userID string) (domain.RoleSet, error) {
	roles, err := r.roles.RolesOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthCheckFailed, err)
	}
	return domain.NewRoleSet(roles...), nil
}

// HasRole сообщает, выдана ли пользователю роль.
func (r *Resolver) HasRole(ctx context.Context, userID string, role domain.Role) (bool, error) {
	roles, err := r.Roles(ctx, userID)
	if err != nil {
		return false, err
	}
	return roles.Has(role), nil
}

// Principal создаёт вызывающего на время одного запроса.
func (r *Resolver) Principal(userID string) (*Principal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrAnonymous
	}
	return &Principal{userID: userID, resolver: r}, nil
}

// Principal описывает вызывающего в рамках одного запроса.
// Профиль и роли загружаются не более одного раза.
type Principal struct {
	userID   string
	resolver *Resolver

	profileOnce sync.Once
	profile     domain.Profile
	profileErr  error

	rolesOnce sync.Once
	roles     domain.RoleSet
	rolesErr  error
}

// UserID возвращает внешний идентификатор вызывающего.
func (p *Principal) UserID() string {
	return p.userID
}

// Profile возвращает профиль вызывающего.
func (p *Principal) Profile(ctx context.Context) (domain.Profile, error) {
	p.profileOnce.Do(func() {
		p.profile, p.profileErr = p.resolver.Profile(ctx, p.userID)
	})
	return p.profile, p.profileErr
}

// Roles возвращает набор ролей вызывающего.
func (p *Principal) Roles(ctx context.Context) (domain.RoleSet, error) {
	p.rolesOnce.Do(func() {
		p.roles, p.rolesErr = p.resolver.Roles(ctx, p.userID)
	})
	return p.roles, p.rolesErr
}

type principalKey struct{}

// WithPrincipal кладёт вызывающего в контекст запроса.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext достаёт вызывающего из контекста.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// HasRole сообщает, выдана ли вызывающему роль.
func (p *Principal) HasRole(ctx context.Context, role domain.Role) (bool, error) {
	roles, err := p.Roles(ctx)
	if err != nil {
		return false, err
	}
	return roles.Has(role), nil
}
