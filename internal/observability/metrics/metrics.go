package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for booking and webhook flows.
type BookingMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	webhookTotal    *prometheus.CounterVec
	bookingDuration *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Appointment creation attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Agent webhook requests by intent and HTTP status",
		}, []string{"intent", "status"}),
		bookingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "duration_seconds",
			Help:      "Latency of appointment creation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.webhookTotal, m.bookingDuration)
	return m
}

// ObserveBooking records one creation attempt. An empty outcome means
// success.
func (m *BookingMetrics) ObserveBooking(channel, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "SUCCESS"
	}
	m.attemptsTotal.WithLabelValues(channel, outcome).Inc()
	m.bookingDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (m *BookingMetrics) ObserveWebhook(intent, status string) {
	if m == nil {
		return
	}
	if intent == "" {
		intent = "none"
	}
	m.webhookTotal.WithLabelValues(intent, status).Inc()
}
