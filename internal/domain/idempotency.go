package domain

import (
	"errors"
	"strings"
	"time"
)

// MaxIdempotencyKeyLen ограничивает ключ, который присылает клиент.
const MaxIdempotencyKeyLen = 128

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что успешный ответ сохранён и будет отдан повторно.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что сохранён ответ с ошибкой клиента.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

var (
	// ErrIdempotencyKeyRequired возвращается для пустого ключа идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyTooLong возвращается для ключа длиннее MaxIdempotencyKeyLen.
	ErrIdempotencyKeyTooLong = errors.New("idempotency key is too long")
	// ErrIdempotencyRequestHashRequired возвращается для пустого хэша запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound возвращается, если записи с ключом нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IdempotencyRecord хранит состояние обработки запроса с Idempotency-Key.
// Key уже включает пространство вызывающего, см. ScopeIdempotencyKey.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Replayable сообщает, что по записи можно отдать сохранённый ответ.
func (r IdempotencyRecord) Replayable() bool {
	return (r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed) && r.HTTPStatus != 0
}

// Expired проверяет срок жизни записи на момент now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !now.Before(r.TTLAt)
}

// ScopeIdempotencyKey привязывает клиентский ключ к пользователю:
// один и тот же ключ у двух покупателей означает два разных запроса.
func ScopeIdempotencyKey(userID, key string) (string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", ErrIdempotencyKeyRequired
	case len(key) > MaxIdempotencyKeyLen:
		return "", ErrIdempotencyKeyTooLong
	}
	return userID + ":" + key, nil
}

// IdempotencyOutcome говорит, что сделать с ключом после ответа.
type IdempotencyOutcome int

const (
	// IdempotencyOutcomeDone сохраняет успешный ответ.
	IdempotencyOutcomeDone IdempotencyOutcome = iota
	// IdempotencyOutcomeFailed сохраняет ответ с ошибкой клиента: повтор её не исправит.
	IdempotencyOutcomeFailed
	// IdempotencyOutcomeRelease удаляет ключ после ошибки сервера, чтобы запрос можно было повторить.
	IdempotencyOutcomeRelease
)

// OutcomeForStatus выбирает исход по HTTP-статусу ответа.
func OutcomeForStatus(httpStatus int) IdempotencyOutcome {
	switch {
	case httpStatus >= 500:
		return IdempotencyOutcomeRelease
	case httpStatus >= 400:
		return IdempotencyOutcomeFailed
	default:
		return IdempotencyOutcomeDone
	}
}

// IsIdempotencyConflict проверяет, что ключ уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
