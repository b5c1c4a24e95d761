package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
)

const (
	contentTypeJSON = "application/json"
	// retryAfterSeconds отдаётся клиенту вместе с 503 по таймауту расчёта.
	retryAfterSeconds = 1
	msgInternal       = "internal server error"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type listResponse[T any] struct {
	Data       []T        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusOf сопоставляет ошибку сценария с HTTP-статусом.
// Для 500 текст ошибки наружу не отдаётся.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrAnonymous):
		return http.StatusUnauthorized, "missing caller identity"
	case errors.Is(err, domain.ErrProfileNotFound):
		return http.StatusUnauthorized, "profile not found for current user"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusServiceUnavailable, "operation timed out, retry later"
	case errors.Is(err, domain.ErrCannotBuyOwnOffer):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case domain.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case domain.IsConflict(err):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeError пишет ответ с ошибкой. Инфраструктурные ошибки логируются с причиной.
func writeError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	status, msg := statusOf(err)
	if status == http.StatusInternalServerError {
		requestLogger(r, logger).WithError(err).Error("request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeMessage(w, status, msg)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describeRule(fe)
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: details})
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed rule " + fe.Tag()
	}
}
