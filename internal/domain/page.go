package domain

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page задаёт окно limit/offset для списков.
type Page struct {
	Limit  int
	Offset int
}

// Normalize подставляет значения по умолчанию и ограничивает лимит.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
