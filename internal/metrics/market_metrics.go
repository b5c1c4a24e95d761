package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label "result".
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// MarketMetrics содержит метрики рынка: расчёты, изменения предложений и курьеров, HTTP.
type MarketMetrics struct {
	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	settlementInFlight prometheus.Gauge

	offerMutations   *prometheus.CounterVec
	courierMutations *prometheus.CounterVec
	outboxEnqueued   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMarketMetrics создаёт метрики в глобальном реестре prometheus.
func NewMarketMetrics() *MarketMetrics {
	return NewMarketMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMarketMetricsWithRegisterer создаёт метрики в указанном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewMarketMetricsWithRegisterer(registerer prometheus.Registerer) *MarketMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &MarketMetrics{
		settlements: register(registerer, "market_settlements_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_settlements_total",
			Help: "Total number of order settlement attempts by result",
		}, []string{"result"})),
		settlementDuration: register(registerer, "market_settlement_duration_seconds", prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_settlement_duration_seconds",
			Help:    "Duration of order settlement transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		})),
		settlementInFlight: register(registerer, "market_settlements_in_flight", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "market_settlements_in_flight",
			Help: "Number of settlement transactions currently running",
		})),
		offerMutations: register(registerer, "market_offer_mutations_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_offer_mutations_total",
			Help: "Total number of offer create/update/delete attempts",
		}, []string{"op", "result"})),
		courierMutations: register(registerer, "market_courier_mutations_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_courier_mutations_total",
			Help: "Total number of courier create/delete attempts",
		}, []string{"op", "result"})),
		outboxEnqueued: register(registerer, "market_outbox_enqueued_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_outbox_enqueued_total",
			Help: "Total number of events written to the outbox",
		}, []string{"event_type"})),
		httpRequests: register(registerer, "market_http_requests_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"})),
		httpDuration: register(registerer, "market_http_request_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// SettlementStarted отмечает начало транзакции расчёта и возвращает функцию завершения.
func (m *MarketMetrics) SettlementStarted() func(result string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.settlementInFlight.Inc()
	return func(result string) {
		m.settlementInFlight.Dec()
		m.settlementDuration.Observe(time.Since(start).Seconds())
		m.settlements.WithLabelValues(result).Inc()
	}
}

// RecordOfferMutation учитывает попытку изменить предложение.
func (m *MarketMetrics) RecordOfferMutation(op, result string) {
	if m == nil {
		return
	}
	m.offerMutations.WithLabelValues(op, result).Inc()
}

// RecordCourierMutation учитывает попытку изменить курьера.
func (m *MarketMetrics) RecordCourierMutation(op, result string) {
	if m == nil {
		return
	}
	m.courierMutations.WithLabelValues(op, result).Inc()
}

// RecordOutboxEnqueued учитывает событие, записанное в outbox.
func (m *MarketMetrics) RecordOutboxEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.outboxEnqueued.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest учитывает обработанный HTTP-запрос.
func (m *MarketMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
