package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "refbot"

// Settlement outcomes.
const (
	OutcomeApplied        = "applied"
	OutcomeAlreadySettled = "already_settled"
	OutcomeInvalid        = "invalid"
	OutcomeError          = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	Settlements      *prometheus.CounterVec
	ReferralCredits  prometheus.Counter
	ReferralMinor    prometheus.Counter
	PayoutRequests   *prometheus.CounterVec
	WebhookRequests  *prometheus.CounterVec
	ReconcileChecked prometheus.Counter
}

// New registers all collectors on a private registry so tests and multiple
// app instances do not collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_time_seconds",
			Help:      "Histogram of response times",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Payment settlements by outcome",
		}, []string{"outcome"}),
		ReferralCredits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_credits_total",
			Help:      "Referral credits granted",
		}),
		ReferralMinor: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_credit_minor_total",
			Help:      "Referral bonus granted, in minor units",
		}),
		PayoutRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_requests_total",
			Help:      "Payout requests by outcome",
		}, []string{"outcome"}),
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Gateway webhook deliveries by response status",
		}, []string{"status"}),
		ReconcileChecked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_checked_total",
			Help:      "Pending payments re-verified by the reconcile job",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSettlement(outcome string, bonusMinor int64) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
	if outcome == OutcomeApplied && bonusMinor > 0 {
		m.ReferralCredits.Inc()
		m.ReferralMinor.Add(float64(bonusMinor))
	}
}

func (m *Metrics) ObservePayoutRequest(outcome string) {
	if m == nil {
		return
	}
	m.PayoutRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveWebhook(status int) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveReconcileCheck() {
	if m == nil {
		return
	}
	m.ReconcileChecked.Inc()
}
