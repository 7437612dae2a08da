// Package metrics holds the Prometheus collectors of the frais processes.
// Collectors register on the default registry; promhttp.Handler serves them.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sheetTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frais_sheet_transitions_total",
		Help: "Expense sheet state transitions",
	}, []string{"from", "to"})

	lineDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frais_free_form_decisions_total",
		Help: "Accountant decisions on free-form lines",
	}, []string{"decision"})

	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frais_validation_failures_total",
		Help: "Rejected inputs by operation",
	}, []string{"operation"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frais_events_published_total",
		Help: "Lifecycle events handed to the broker",
	}, []string{"type", "result"})

	ledgerExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frais_ledger_exports_total",
		Help: "Reimbursed sheets written to the external ledger",
	}, []string{"result"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frais_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frais_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)

func SheetTransition(from, to string) {
	sheetTransitions.WithLabelValues(from, to).Inc()
}

// LineDecision counts "refused" and "deferred" decisions.
func LineDecision(decision string) {
	lineDecisions.WithLabelValues(decision).Inc()
}

func ValidationFailure(operation string) {
	validationFailures.WithLabelValues(operation).Inc()
}

func EventPublished(eventType string, err error) {
	eventsPublished.WithLabelValues(eventType, result(err)).Inc()
}

func LedgerExport(err error) {
	ledgerExports.WithLabelValues(result(err)).Inc()
}

// HTTPRequest records one served request. route is the mux path template.
func HTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
