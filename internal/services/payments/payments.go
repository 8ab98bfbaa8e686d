package payments

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/monitoring"
	"github.com/polyphonica/polyphonica/internal/payment"
	"github.com/polyphonica/polyphonica/internal/services/concerts"
	"github.com/polyphonica/polyphonica/internal/services/workshops"
	"github.com/rs/zerolog"
)

// Service is the single Stripe webhook endpoint. Events carry a metadata
// type that routes them to the concert or workshop settlement path.
type Service struct {
	gateway   payment.Gateway
	concerts  *concerts.Service
	workshops *workshops.Service
	logger    zerolog.Logger
}

func NewService(gateway payment.Gateway, concertsService *concerts.Service, workshopsService *workshops.Service, logger zerolog.Logger) *Service {
	return &Service{
		gateway:   gateway,
		concerts:  concertsService,
		workshops: workshopsService,
		logger:    logger,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	r.POST("/webhooks/stripe", s.HandleWebhook)
}

func (s *Service) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read payload",
		})
		return
	}

	event, err := s.gateway.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.logger.Warn().Err(err).Msg("webhook signature rejected")
		monitoring.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid signature",
		})
		return
	}

	ctx := c.Request.Context()
	outcome := "ok"

	switch event.Type {
	case "checkout.session.completed":
		status, err := s.gateway.GetCheckoutSession(ctx, event.SessionID)
		if err != nil || !status.Paid {
			// Verify with the API rather than trusting the event payload.
			s.logger.Warn().Err(err).Str("sessionId", event.SessionID).Msg("completed session not verifiable as paid")
			outcome = "error"
			break
		}
		switch event.Metadata[payment.MetaType] {
		case payment.TypeTicketOrder:
			if _, err := s.concerts.ApplyPaidSession(ctx, event.SessionID, status.PaymentIntentID); err != nil {
				s.logger.Error().Err(err).Str("sessionId", event.SessionID).Msg("failed to settle ticket order")
				outcome = "error"
			}
		case payment.TypeRegistration:
			if _, err := s.workshops.ApplyPaidSession(ctx, event.SessionID, status.PaymentIntentID); err != nil {
				s.logger.Error().Err(err).Str("sessionId", event.SessionID).Msg("failed to settle registration")
				outcome = "error"
			}
		default:
			s.logger.Warn().Str("sessionId", event.SessionID).Msg("completed session without routing metadata")
			outcome = "ignored"
		}

	case "checkout.session.expired":
		switch event.Metadata[payment.MetaType] {
		case payment.TypeTicketOrder:
			if err := s.concerts.ExpireSession(ctx, event.SessionID); err != nil {
				s.logger.Warn().Err(err).Str("sessionId", event.SessionID).Msg("failed to expire ticket order")
				outcome = "error"
			}
		case payment.TypeRegistration:
			if err := s.workshops.ExpireSession(ctx, event.SessionID); err != nil {
				s.logger.Warn().Err(err).Str("sessionId", event.SessionID).Msg("failed to expire registration")
				outcome = "error"
			}
		default:
			outcome = "ignored"
		}

	default:
		outcome = "ignored"
	}

	monitoring.WebhookEvents.WithLabelValues(event.Type, outcome).Inc()

	// Always 200 for verified events; Stripe retries non-2xx responses and
	// settlement is idempotent anyway.
	c.JSON(http.StatusOK, gin.H{
		"received": true,
	})
}
