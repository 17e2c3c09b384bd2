package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vledger/pkg/breaker"
)

// ============================================================
// Prometheus метрики леджера и движка расчётов
// ============================================================

// webhooksTotal - обработанные вебхуки по итоговому статусу
var webhooksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vledger",
		Subsystem: "settlement",
		Name:      "webhooks_total",
		Help:      "Processed webhook signals by final status",
	},
	[]string{"status"},
)

// settlementLatency - полное время обработки вебхука, включая поллинг
var settlementLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "vledger",
		Subsystem: "settlement",
		Name:      "webhook_duration_seconds",
		Help:      "End-to-end webhook processing time including order polling",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
)

// ordersTotal - отправленные на биржу ордера
var ordersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vledger",
		Subsystem: "settlement",
		Name:      "orders_total",
		Help:      "Orders submitted to exchanges by side and terminal status",
	},
	[]string{"side", "status"},
)

// pollExhaustedTotal - расчёты, завершившиеся по исчерпании поллинга
// с последним известным состоянием ордера
var pollExhaustedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vledger",
		Subsystem: "settlement",
		Name:      "poll_exhausted_total",
		Help:      "Settlements committed with last-known order state after polling budget ran out",
	},
)

// transfersTotal - зафиксированные переводы леджера
var transfersTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vledger",
		Subsystem: "ledger",
		Name:      "transfers_total",
		Help:      "Committed ledger transfers",
	},
)

// driftAlarmsTotal - обнаруженные перевыделения сверх допуска
var driftAlarmsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vledger",
		Subsystem: "ledger",
		Name:      "drift_alarms_total",
		Help:      "Detected over-allocations exceeding the drift tolerance",
	},
)

// settlementClampsTotal - срабатывания защитного округления к нулю
var settlementClampsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vledger",
		Subsystem: "settlement",
		Name:      "clamps_total",
		Help:      "Sub-epsilon negative allocations clamped to zero during settlement",
	},
)

// breakerTransitionsTotal - переходы состояний предохранителей
var breakerTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vledger",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions by operation",
	},
	[]string{"operation", "to"},
)

// BreakerStateChange - колбэк для breaker.Registry, считающий переходы
func BreakerStateChange(name string, from, to breaker.State) {
	breakerTransitionsTotal.WithLabelValues(name, to.String()).Inc()
}
