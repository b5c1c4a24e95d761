package domain

// Camp обозначает лагерь профиля, курьера или предложения.
type Camp string

const (
	CampOld   Camp = "OLD_CAMP"
	CampNew   Camp = "NEW_CAMP"
	CampSwamp Camp = "SWAMP_CAMP"
)

// Valid проверяет, что лагерь относится к поддерживаемым значениям.
func (c Camp) Valid() bool {
	switch c {
	case CampOld, CampNew, CampSwamp:
		return true
	default:
		return false
	}
}

// Camps возвращает все известные лагеря.
func Camps() []Camp {
	return []Camp{CampOld, CampNew, CampSwamp}
}
