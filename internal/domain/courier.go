package domain

// Courier описывает агента доставки. Управляют курьерами только привилегированные пользователи.
type Courier struct {
	ID   int64
	Name string
	Camp Camp
}
