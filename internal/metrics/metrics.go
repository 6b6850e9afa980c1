package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeNetwork = "network_error"
	OutcomeDomain  = "domain_error"
	OutcomeInvalid = "invalid"
)

// Auth backend metrics
var (
	// AuthRequestsTotal tracks calls to the auth backend by operation and outcome
	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosense_auth_requests_total",
			Help: "Total auth backend requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// AuthRequestDuration tracks auth backend latency in seconds
	AuthRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrosense_auth_request_duration_seconds",
			Help:    "Auth backend request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

// Code screen metrics
var (
	OTPVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosense_otp_verifications_total",
			Help: "Total code verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	OTPResendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrosense_otp_resends_total",
			Help: "Total code resend attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// StorageOpsTotal tracks credential storage operations by backend, operation and status
var StorageOpsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agrosense_storage_operations_total",
		Help: "Total credential storage operations by backend, operation and status",
	},
	[]string{"backend", "operation", "status"},
)

// Status returns the status label for an operation result
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
