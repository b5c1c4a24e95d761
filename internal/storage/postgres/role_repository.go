package postgres

import (
	"context"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

type roleRepository struct {
	q Querier
}

// NewRoleRepository создаёт PostgreSQL-реализацию RoleRepository.
func NewRoleRepository(q Querier) domain.RoleRepository {
	return &roleRepository{q: q}
}

func (r *roleRepository) RolesOf(ctx context.Context, userID string) ([]domain.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.Query(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, wrapDBError("query user roles", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDBError("scan user role", err)
		}
		roles = append(roles, domain.Role(name))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate user roles", err)
	}

	return roles, nil
}

// GrantRole выдаёт пользователю роль; повторная выдача ничего не меняет.
func GrantRole(ctx context.Context, q Querier, userID string, role domain.Role) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := q.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2
		ON CONFLICT DO NOTHING
	`, userID, string(role))
	if err != nil {
		return wrapDBError("grant role", err)
	}
	return nil
}

var _ domain.RoleRepository = (*roleRepository)(nil)
