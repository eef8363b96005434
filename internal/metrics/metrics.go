package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkwise",
			Name:      "api_requests_total",
			Help:      "Count of backend API calls by operation and HTTP status code (0 = transport failure).",
		},
		[]string{"operation", "code"},
	)

	bookingSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkwise",
			Name:      "booking_submissions_total",
			Help:      "Count of booking form submissions by outcome.",
		},
		[]string{"outcome"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parkwise",
			Name:      "booking_cancelled_total",
			Help:      "Count of confirmed booking cancellations.",
		},
	)

	slotMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkwise",
			Name:      "slot_mutations_total",
			Help:      "Count of administrative slot mutations by action.",
		},
		[]string{"action"},
	)

	qrValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkwise",
			Name:      "qr_validations_total",
			Help:      "Count of QR validations by verdict.",
		},
		[]string{"verdict"},
	)

	mockRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkwise",
			Subsystem: "mockapi",
			Name:      "requests_total",
			Help:      "Count of requests served by the mock backend by route.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(apiRequests, bookingSubmissions, bookingCancelled, slotMutations, qrValidations, mockRequests)
	})
}

func ObserveAPIRequest(operation string, code int) {
	apiRequests.WithLabelValues(operation, strconv.Itoa(code)).Inc()
}

func IncBookingSubmission(outcome string) {
	bookingSubmissions.WithLabelValues(outcome).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncSlotMutation(action string) {
	slotMutations.WithLabelValues(action).Inc()
}

func IncQRValidation(valid bool) {
	verdict := "invalid"
	if valid {
		verdict = "valid"
	}
	qrValidations.WithLabelValues(verdict).Inc()
}

func IncMockRequest(route string) {
	mockRequests.WithLabelValues(route).Inc()
}
