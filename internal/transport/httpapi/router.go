// Package httpapi публикует сценарии рынка как JSON API поверх chi.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/riandyrn/otelchi"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
	"github.com/vladislavdragonenkov/bazaar/internal/metrics"
	"github.com/vladislavdragonenkov/bazaar/internal/service/market"
	"github.com/vladislavdragonenkov/bazaar/internal/version"
)

// Deps собирает зависимости HTTP API.
type Deps struct {
	Service  *market.Service
	Resolver *identity.Resolver
	// Idempotency включает Idempotency-Key для POST /orders; nil отключает.
	Idempotency domain.IdempotencyRepository
	Metrics     *metrics.MarketMetrics
	Logger      *log.Entry
	// RateLimit nil отключает ограничение частоты.
	RateLimit *RateLimiterConfig
}

type handler struct {
	svc      *market.Service
	idem     domain.IdempotencyRepository
	validate *validator.Validate
	logger   *log.Entry
}

// NewRouter собирает маршруты /api/v1. ctx ограничивает жизнь фоновой очистки лимитера.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	h := &handler{
		svc:      deps.Service,
		idem:     deps.Idempotency,
		validate: newValidator(),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(Metrics(deps.Metrics))
	if deps.RateLimit != nil {
		r.Use(NewRateLimiter(ctx, *deps.RateLimit).Handler(logger))
	}
	r.Use(otelchi.Middleware(version.ServiceName, otelchi.WithChiRoutes(r)))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/offers", h.listOffers)
		api.Get("/offers/{id}", h.getOffer)
		api.Get("/couriers", h.listCouriers)
		api.Get("/couriers/{id}", h.getCourier)

		api.Group(func(auth chi.Router) {
			auth.Use(Authenticate(deps.Resolver))

			auth.Post("/profiles", h.createProfile)
			auth.Get("/profiles/me", h.getMyProfile)
			auth.Patch("/profiles/me", h.updateMyProfile)

			auth.Post("/offers", h.createOffer)
			auth.Patch("/offers/{id}", h.updateOffer)
			auth.Delete("/offers/{id}", h.deleteOffer)

			auth.Get("/orders", h.listOrders)
			auth.Post("/orders", h.createOrder)

			auth.Post("/couriers", h.createCourier)
			auth.Delete("/couriers/{id}", h.deleteCourier)
		})
	})

	return r
}
