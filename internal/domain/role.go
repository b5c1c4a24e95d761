package domain

// Role описывает право, выданное пользователю.
type Role string

// RoleCourierAdmin разрешает управлять курьерами.
const RoleCourierAdmin Role = "gomez"

// RoleSet хранит набор ролей пользователя.
type RoleSet map[Role]struct{}

// NewRoleSet собирает набор из списка ролей.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Has сообщает, входит ли роль в набор.
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}
