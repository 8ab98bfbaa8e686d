package monitoring

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CheckoutSessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyphonica_checkout_sessions_created_total",
		Help: "Checkout sessions created, by kind (ticket_order, registration).",
	}, []string{"kind"})

	PaymentsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyphonica_payments_completed_total",
		Help: "Payments confirmed, by kind.",
	}, []string{"kind"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyphonica_webhook_events_total",
		Help: "Stripe webhook events received, by type and outcome.",
	}, []string{"type", "outcome"})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyphonica_emails_sent_total",
		Help: "Transactional emails, by kind and outcome.",
	}, []string{"kind", "outcome"})

	RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyphonica_refunds_issued_total",
		Help: "Refunds issued for workshop cancellations.",
	})

	CheckoutsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyphonica_checkouts_expired_total",
		Help: "Pending orders and registrations expired by the scheduler, by kind.",
	}, []string{"kind"})
)

// SetupRoutes exposes the Prometheus scrape endpoint.
func SetupRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
