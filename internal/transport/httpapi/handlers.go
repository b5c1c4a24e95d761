package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
	"github.com/vladislavdragonenkov/bazaar/internal/service/market"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidJSON = errors.New("invalid JSON body")
	errInvalidID   = errors.New("invalid id parameter")
)

// decode читает JSON-тело и проверяет его правилами validate.
// При ошибке ответ уже записан.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	return h.decodeBytes(w, body, dst)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusRequestEntityTooLarge, "request body is too large")
		return nil, false
	}
	return body, true
}

func (h *handler) decodeBytes(w http.ResponseWriter, body []byte, dst any) bool {
	if err := json.Unmarshal(body, dst); err != nil {
		writeMessage(w, http.StatusBadRequest, errInvalidJSON.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, errInvalidID.Error())
		return 0, false
	}
	return id, true
}

func (h *handler) page(w http.ResponseWriter, r *http.Request) (domain.Page, bool) {
	q := pageQuery{Limit: domain.DefaultPageLimit}
	values := r.URL.Query()

	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("query parameter %s must be an integer", name))
			return domain.Page{}, false
		}
		*dst = v
	}

	if err := h.validate.Struct(q); err != nil {
		writeValidationError(w, err)
		return domain.Page{}, false
	}
	return q.toPage(), true
}

func principal(r *http.Request) *identity.Principal {
	p, _ := identity.PrincipalFromContext(r.Context())
	return p
}

func (h *handler) listOffers(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	offers, err := h.svc.ListOffers(r.Context(), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[offerResponse]{
		Data:       mapSlice(offers, newOfferResponse),
		Pagination: pagination{Limit: page.Limit, Offset: page.Offset},
	})
}

func (h *handler) getOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	offer, err := h.svc.GetOffer(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferResponse(offer))
}

func (h *handler) createOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if !h.decode(w, r, &req) {
		return
	}
	offer, err := h.svc.CreateOffer(r.Context(), principal(r), req.toDraft())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOfferResponse(offer))
}

func (h *handler) updateOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateOfferRequest
	if !h.decode(w, r, &req) {
		return
	}
	offer, err := h.svc.UpdateOffer(r.Context(), principal(r), id, req.toPatch())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferResponse(offer))
}

func (h *handler) deleteOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteOffer(r.Context(), principal(r), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	view := domain.OrderView(r.URL.Query().Get("view"))
	if view != "" && !view.Valid() {
		writeMessage(w, http.StatusBadRequest, "query parameter view must be one of: bought, sold, all")
		return
	}

	orders, err := h.svc.ListOrders(r.Context(), principal(r), view, page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[orderResponse]{
		Data:       mapSlice(orders, newOrderResponse),
		Pagination: pagination{Limit: page.Limit, Offset: page.Offset},
	})
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	h.withIdempotency(w, r, body, func(w http.ResponseWriter) {
		var req createOrderRequest
		if !h.decodeBytes(w, body, &req) {
			return
		}
		order, err := h.svc.CreateOrder(r.Context(), principal(r), market.CreateOrderRequest{
			OfferID:   req.OfferID,
			CourierID: req.CourierID,
		})
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, newOrderResponse(order))
	})
}

func (h *handler) listCouriers(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	couriers, err := h.svc.ListCouriers(r.Context(), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[courierResponse]{
		Data:       mapSlice(couriers, newCourierResponse),
		Pagination: pagination{Limit: page.Limit, Offset: page.Offset},
	})
}

func (h *handler) getCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	courier, err := h.svc.GetCourier(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newCourierResponse(courier))
}

func (h *handler) createCourier(w http.ResponseWriter, r *http.Request) {
	var req createCourierRequest
	if !h.decode(w, r, &req) {
		return
	}
	courier, err := h.svc.CreateCourier(r.Context(), principal(r), domain.Courier{
		Name: req.Name,
		Camp: domain.Camp(req.Camp),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCourierResponse(courier))
}

func (h *handler) deleteCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteCourier(r.Context(), principal(r), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) createProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	profile, err := h.svc.CreateProfile(r.Context(), principal(r), req.toDraft())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProfileResponse(profile))
}

func (h *handler) getMyProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.GetMyProfile(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(profile))
}

func (h *handler) updateMyProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	if id := req.DefaultCourierID.Value; id != nil && *id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation failed",
			Details: map[string]string{"defaultCourierId": "must be greater than 0"},
		})
		return
	}
	profile, err := h.svc.UpdateMyProfile(r.Context(), principal(r), req.toPatch())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(profile))
}
