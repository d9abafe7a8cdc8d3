package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by outcome.",
		},
		[]string{"outcome"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled.",
		},
	)

	credentialOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "credential_operations_total",
			Help:      "Count of lock credential operations by type and result.",
		},
		[]string{"operation", "result"},
	)

	gatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "lock_gateway_errors_total",
			Help:      "Count of lock gateway failures by class.",
		},
		[]string{"class"},
	)

	lockOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "studiobook",
			Name:      "lock_online",
			Help:      "Last observed online state per lock (1 online, 0 offline).",
		},
		[]string{"lock_id"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "http_requests_total",
			Help:      "Count of API requests by handler.",
		},
		[]string{"handler"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingCreated, bookingCancelled, credentialOps,
			gatewayErrors, lockOnline, httpRequests)
	})
}

func IncBookingCreated(outcome string) {
	bookingCreated.WithLabelValues(outcome).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncCredentialOp(operation, result string) {
	credentialOps.WithLabelValues(operation, result).Inc()
}

func IncGatewayError(class string) {
	gatewayErrors.WithLabelValues(class).Inc()
}

func SetLockOnline(lockID string, online bool) {
	v := 0.0
	if online {
		v = 1.0
	}
	lockOnline.WithLabelValues(lockID).Set(v)
}

func IncHTTP(handler string) {
	httpRequests.WithLabelValues(handler).Inc()
}
