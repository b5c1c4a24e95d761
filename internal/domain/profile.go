package domain

// Profile представляет пользователя внутри рынка.
type Profile struct {
	ID int64
	// UserID выдан внешней системой аутентификации.
	UserID           string
	Name             string
	Camp             Camp
	DefaultCourierID *int64
}

// ProfileDraft содержит данные для создания профиля.
type ProfileDraft struct {
	Name             string
	Camp             Camp
	DefaultCourierID *int64
}

// ProfilePatch описывает частичное обновление профиля его владельцем.
type ProfilePatch struct {
	Name             *string
	Camp             *Camp
	DefaultCourierID *int64
	// ClearDefaultCourier сбрасывает курьера по умолчанию.
	ClearDefaultCourier bool
}

// Empty сообщает, что патч ничего не меняет.
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Camp == nil && p.DefaultCourierID == nil && !p.ClearDefaultCourier
}

// Apply возвращает копию профиля с применёнными изменениями.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.Camp != nil {
		profile.Camp = *p.Camp
	}
	if p.ClearDefaultCourier {
		profile.DefaultCourierID = nil
	} else if p.DefaultCourierID != nil {
		id := *p.DefaultCourierID
		profile.DefaultCourierID = &id
	}
	return profile
}
