// Package metrics holds the Prometheus collectors shared by the booking services.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookingdesk"

var (
	once sync.Once

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of booking API requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read cache lookups by result (hit/miss).",
		},
		[]string{"result"},
	)

	tokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by result.",
		},
		[]string{"result"},
	)

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of booking create attempts by status.",
		},
		[]string{"status"},
	)

	adminDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_decision_total",
			Help:      "Count of admin decisions over bookings.",
		},
		[]string{"decision"},
	)

	bulkSlots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_slot_operations_total",
			Help:      "Per-slot results of day block/unblock operations.",
		},
		[]string{"operation", "result"},
	)

	unconfirmedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unconfirmed_bookings",
			Help:      "Unconfirmed bookings seen at the last notifier poll.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			apiRequestDuration,
			cacheLookups,
			tokenRefresh,
			bookingCreated,
			adminDecision,
			bulkSlots,
			unconfirmedGauge,
		)
	})
}

func ObserveAPIRequest(method, endpoint string, status int, d time.Duration) {
	apiRequestDuration.WithLabelValues(method, endpoint, strconv.Itoa(status)).Observe(d.Seconds())
}

func IncCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveTokenRefresh matches the auth.Transport OnRefresh hook signature.
func ObserveTokenRefresh(err error) {
	if err != nil {
		tokenRefresh.WithLabelValues("failure").Inc()
		return
	}
	tokenRefresh.WithLabelValues("success").Inc()
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncAdminDecision(decision string) {
	adminDecision.WithLabelValues(decision).Inc()
}

func AddBulkSlots(operation string, succeeded, failed int) {
	bulkSlots.WithLabelValues(operation, "success").Add(float64(succeeded))
	bulkSlots.WithLabelValues(operation, "failure").Add(float64(failed))
}

func SetUnconfirmed(n int) {
	unconfirmedGauge.Set(float64(n))
}
