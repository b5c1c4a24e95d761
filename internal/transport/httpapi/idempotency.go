package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const (
	// HeaderIdempotencyKey позволяет безопасно повторять POST /orders.
	HeaderIdempotencyKey = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
)

// withIdempotency выполняет run не более одного раза на пару (пользователь, ключ).
// Повтор с тем же телом получает сохранённый ответ, с другим телом получает 422.
// Ответы 5xx не сохраняются: ключ освобождается, и запрос можно повторить.
func (h *handler) withIdempotency(w http.ResponseWriter, r *http.Request, body []byte, run func(w http.ResponseWriter)) {
	rawKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if h.idem == nil || rawKey == "" {
		run(w)
		return
	}
	key, err := domain.ScopeIdempotencyKey(principal(r).UserID(), rawKey)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	logger := requestLogger(r, h.logger).WithField("idempotency_key", rawKey)

	record, err := h.idem.CreateProcessing(r.Context(), key, requestHash(r, body), time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		h.replayIdempotency(w, r, logger, err, record)
		return
	}

	// Запрос уже мог быть отменён клиентом, а запись должна дойти до хранилища.
	ctx := context.WithoutCancel(r.Context())

	// Паника в run проходит мимо итогового switch: ключ освобождается здесь,
	// а паника уходит дальше в middleware.Recoverer.
	finished := false
	defer func() {
		if finished {
			return
		}
		if err := h.idem.Release(ctx, key); err != nil {
			logger.WithError(err).Warn("failed to release idempotency key after panic")
		}
	}()

	var buf bytes.Buffer
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Tee(&buf)
	run(ww)
	finished = true

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	switch domain.OutcomeForStatus(status) {
	case domain.IdempotencyOutcomeRelease:
		if err := h.idem.Release(ctx, key); err != nil {
			logger.WithError(err).Warn("failed to release idempotency key")
		}
	case domain.IdempotencyOutcomeDone:
		if err := h.idem.MarkDone(ctx, key, buf.Bytes(), status); err != nil {
			logger.WithError(err).Warn("failed to store idempotent success response")
		}
	default:
		if err := h.idem.MarkFailed(ctx, key, buf.Bytes(), status); err != nil {
			logger.WithError(err).Warn("failed to store idempotency failure response")
		}
	}
}

func (h *handler) replayIdempotency(w http.ResponseWriter, r *http.Request, logger *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeMessage(w, http.StatusUnprocessableEntity, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Replayable():
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", contentTypeJSON)
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
		case record.Status == domain.IdempotencyStatusProcessing:
			writeMessage(w, http.StatusConflict, "request with the same idempotency key is already processing")
		default:
			logger.WithFields(log.Fields{"status": record.Status, "http_status": record.HTTPStatus}).Warn("idempotency record cannot be replayed")
			writeMessage(w, http.StatusInternalServerError, msgInternal)
		}
	default:
		writeError(w, r, h.logger, createErr)
	}
}

// requestHash связывает ключ с методом, путём и телом запроса.
func requestHash(r *http.Request, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(r.Method))
	sum.Write([]byte{0})
	sum.Write([]byte(r.URL.Path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
