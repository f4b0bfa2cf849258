package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PassesTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "sequence_passes_total", Help: "Scheduler passes run"})
	PassErrors         = prometheus.NewCounter(prometheus.CounterOpts{Name: "sequence_pass_errors_total", Help: "Passes aborted while selecting due enrollments"})
	PassSkipped        = prometheus.NewCounter(prometheus.CounterOpts{Name: "sequence_passes_skipped_total", Help: "Triggers skipped because a pass was already running"})
	PassDuration       = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "sequence_pass_duration_seconds", Help: "Wall time of a scheduler pass", Buckets: prometheus.DefBuckets})
	EnrollmentsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sequence_enrollments_processed_total", Help: "Due enrollments processed, by action"}, []string{"action"})
	PassLoadErrors     = prometheus.NewCounter(prometheus.CounterOpts{Name: "sequence_enrollment_load_errors_total", Help: "Enrollments skipped because their sequence or lead could not be read"})
	EnrollmentFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "sequence_enrollments_failed_total", Help: "Enrollments moved to failed by a pass"})
	EmailsSent         = prometheus.NewCounter(prometheus.CounterOpts{Name: "sequence_emails_sent_total", Help: "Sequence emails handed to the mail transport"})
	RepliesDetected    = prometheus.NewCounter(prometheus.CounterOpts{Name: "sequence_replies_detected_total", Help: "Inbound replies matched to leads"})
	LastPassDue        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "sequence_last_pass_due", Help: "Due enrollments selected by the most recent pass"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PassesTotal,
			PassErrors,
			PassSkipped,
			PassDuration,
			EnrollmentsHandled,
			EnrollmentFailures,
			PassLoadErrors,
			EmailsSent,
			RepliesDetected,
			LastPassDue,
		)
	})
	return promhttp.Handler()
}
