package concerts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/mailer"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/monitoring"
	"github.com/polyphonica/polyphonica/internal/payment"
	"github.com/polyphonica/polyphonica/internal/redis"
	"github.com/polyphonica/polyphonica/internal/storage"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const maxTicketsPerOrder = 10

type Service struct {
	db      *gorm.DB
	redis   *redis.Client
	gateway payment.Gateway
	mail    mailer.Mailer
	store   *storage.Local
	config  *config.Config
	logger  zerolog.Logger
}

func NewService(db *gorm.DB, redisClient *redis.Client, gateway payment.Gateway, mail mailer.Mailer, store *storage.Local, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		redis:   redisClient,
		gateway: gateway,
		mail:    mail,
		store:   store,
		config:  cfg,
		logger:  logger,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	r.GET("/concerts", s.ListConcerts)
	r.GET("/concerts/checkout/success", s.CheckoutSuccess)
	r.GET("/concerts/:slug", s.GetConcert)
	r.POST("/concerts/:slug/checkout", s.StartCheckout)

	staff := r.Group("/staff/concerts", auth.RequireAuth(s.config), auth.RequireStaff())
	staff.GET("", s.StaffListConcerts)
	staff.POST("", s.CreateConcert)
	staff.GET("/:id", s.StaffGetConcert)
	staff.PUT("/:id", s.UpdateConcert)
	staff.DELETE("/:id", s.DeleteConcert)
	staff.POST("/:id/image", s.UploadImage)
	staff.GET("/:id/orders", s.ListOrders)
}

// ListConcerts returns published concerts split into upcoming and past.
// Drafts are never visible here.
func (s *Service) ListConcerts(c *gin.Context) {
	var concerts []models.Concert
	if err := s.db.Where("status <> ?", models.StatusDraft).
		Order("date ASC").Find(&concerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch concerts",
		})
		return
	}

	now := time.Now()
	upcoming := make([]gin.H, 0)
	past := make([]gin.H, 0)
	for i := range concerts {
		view := s.publicView(&concerts[i])
		if concerts[i].IsPast(now) {
			past = append(past, view)
		} else {
			upcoming = append(upcoming, view)
		}
	}

	// Past concerts newest first.
	for i, j := 0, len(past)-1; i < j; i, j = i+1, j-1 {
		past[i], past[j] = past[j], past[i]
	}

	c.JSON(http.StatusOK, gin.H{
		"upcoming": upcoming,
		"past":     past,
	})
}

func (s *Service) GetConcert(c *gin.Context) {
	concert, ok := s.publishedBySlug(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, s.publicView(concert))
}

// publicView shapes a concert for public consumption. The checkout fields
// are only present for internal ticketing; external concerts expose the
// third-party link instead.
func (s *Service) publicView(concert *models.Concert) gin.H {
	view := gin.H{
		"title":         concert.Title,
		"slug":          concert.Slug,
		"description":   concert.Description,
		"date":          concert.Date.Format("2006-01-02"),
		"startTime":     concert.StartTime,
		"doorsOpen":     concert.DoorsOpen,
		"venueName":     concert.VenueName,
		"venueAddress":  concert.VenueAddress,
		"venuePostcode": concert.VenuePostcode,
		"venueMapLink":  concert.VenueMapLink,
		"imagePath":     concert.ImagePath,
		"ticketSource":  concert.TicketSource,
		"status":        concert.Status,
	}

	switch concert.TicketSource {
	case models.TicketSourceInternal:
		view["fullPrice"] = concert.FullPrice
		view["discountPrice"] = concert.DiscountPrice
		view["discountLabel"] = concert.DiscountLabel
		view["soldOut"] = concert.IsSoldOut()
		if remaining := concert.TicketsRemaining(); remaining != nil {
			view["ticketsRemaining"] = *remaining
		}
	case models.TicketSourceExternal:
		view["externalTicketUrl"] = concert.ExternalTicketURL
	}

	if concert.Programme != nil && concert.Programme.Status == models.ProgrammeFinal {
		view["programme"] = concert.Programme
	}

	return view
}

func (s *Service) publishedBySlug(c *gin.Context) (*models.Concert, bool) {
	var concert models.Concert
	err := s.db.Preload("Programme").Preload("Programme.Items", func(db *gorm.DB) *gorm.DB {
		return db.Order(`programme_items."order" ASC`)
	}).Preload("Programme.Items.Piece").Preload("Programme.Items.Piece.Composer").
		First(&concert, "slug = ? AND status <> ?", c.Param("slug"), models.StatusDraft).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Concert not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch concert",
		})
		return nil, false
	}
	return &concert, true
}

type checkoutRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Phone      string `json:"phone"`
	TicketType string `json:"ticketType" binding:"required,oneof=full discount"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
}

// StartCheckout creates a pending order, holds the seats for the checkout
// window and returns the hosted payment page URL. Guest flow: no account.
func (s *Service) StartCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}
	if req.Quantity > maxTicketsPerOrder {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("At most %d tickets per order", maxTicketsPerOrder),
		})
		return
	}

	concert, ok := s.publishedBySlug(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if status, msg := s.checkPurchasable(ctx, concert, req.Quantity); status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	unit := concert.UnitPrice(req.TicketType)
	order := models.TicketOrder{
		ConcertID:  concert.ID,
		Reference:  models.NewReference("PT"),
		Email:      req.Email,
		Name:       req.Name,
		Phone:      req.Phone,
		TicketType: req.TicketType,
		Quantity:   req.Quantity,
		UnitPrice:  unit,
		TotalPrice: unit.Mul(decimalFromInt(req.Quantity)),
		Status:     models.PaymentPending,
	}

	if err := s.redis.HoldPlaces(ctx, redis.HoldConcert, concert.ID, order.Reference, req.Quantity, s.config.CheckoutWindow); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Tickets are currently being processed, please try again",
		})
		return
	}

	if err := s.db.Create(&order).Error; err != nil {
		s.redis.ReleaseHold(ctx, redis.HoldConcert, concert.ID, order.Reference)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create order",
		})
		return
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, &payment.CheckoutParams{
		Item: payment.CheckoutItem{
			Name:            fmt.Sprintf("%s - %s ticket", concert.Title, req.TicketType),
			Description:     fmt.Sprintf("%s, %s", concert.Date.Format("Monday 2 January 2006"), concert.VenueName),
			UnitAmountPence: unit.Mul(decimalFromInt(100)).IntPart(),
			Quantity:        int64(req.Quantity),
		},
		CustomerEmail: req.Email,
		SuccessURL:    s.config.BaseURL + "/concerts/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.config.BaseURL + "/concerts/" + concert.Slug,
		ExpiresAt:     time.Now().Add(s.config.CheckoutWindow),
		Metadata: map[string]string{
			payment.MetaType:      payment.TypeTicketOrder,
			payment.MetaReference: order.Reference,
		},
	})
	if err != nil {
		s.db.Model(&order).Update("status", models.PaymentCancelled)
		s.redis.ReleaseHold(ctx, redis.HoldConcert, concert.ID, order.Reference)
		s.logger.Error().Err(err).Str("reference", order.Reference).Msg("failed to create checkout session")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Payment provider unavailable, please try again later",
		})
		return
	}

	if err := s.db.Model(&order).Update("stripe_checkout_session_id", session.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save order",
		})
		return
	}

	monitoring.CheckoutSessionsCreated.WithLabelValues("ticket_order").Inc()
	c.JSON(http.StatusOK, gin.H{
		"reference":   order.Reference,
		"checkoutUrl": session.URL,
		"expiresAt":   time.Now().Add(s.config.CheckoutWindow),
	})
}

// checkPurchasable returns a non-zero HTTP status when checkout must be
// refused. Counts live holds so concurrent checkouts cannot oversell.
func (s *Service) checkPurchasable(ctx context.Context, concert *models.Concert, quantity int) (int, string) {
	if concert.TicketSource != models.TicketSourceInternal {
		return http.StatusConflict, "Tickets for this concert are not sold here"
	}
	if concert.Status == models.StatusCancelled {
		return http.StatusConflict, "This concert has been cancelled"
	}
	if concert.IsPast(time.Now()) {
		return http.StatusConflict, "This concert has already taken place"
	}
	if concert.Capacity != nil {
		held, err := s.redis.HeldPlaces(ctx, redis.HoldConcert, concert.ID)
		if err != nil {
			s.logger.Warn().Err(err).Uint("concertId", concert.ID).Msg("failed to count held places")
			held = 0
		}
		available := *concert.Capacity - concert.TicketsSold - held
		if quantity > available {
			return http.StatusConflict, "Not enough tickets remaining"
		}
	}
	return 0, ""
}

// CheckoutSuccess is the landing endpoint after payment. It verifies the
// session with the provider rather than trusting the redirect.
func (s *Service) CheckoutSuccess(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "session_id is required",
		})
		return
	}

	status, err := s.gateway.GetCheckoutSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to verify payment",
		})
		return
	}
	if !status.Paid {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Payment has not completed",
		})
		return
	}

	order, err := s.ApplyPaidSession(c.Request.Context(), sessionID, status.PaymentIntentID)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionId", sessionID).Msg("failed to apply paid session")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to complete order",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference": order.Reference,
		"status":    order.Status,
		"message":   "Payment complete, your tickets have been emailed to you",
	})
}

// ApplyPaidSession settles a paid checkout session: bumps the sold counter
// under the capacity guard, marks the order paid and emails the tickets.
// Idempotent, so the webhook and the success redirect can both call it.
func (s *Service) ApplyPaidSession(ctx context.Context, sessionID, paymentIntentID string) (*models.TicketOrder, error) {
	var order models.TicketOrder
	if err := s.db.WithContext(ctx).Preload("Concert").
		First(&order, "stripe_checkout_session_id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("order for session %s not found: %w", sessionID, err)
	}

	if order.Status == models.PaymentPaid {
		return &order, nil
	}
	if order.Status != models.PaymentPending && order.Status != models.PaymentExpired {
		return nil, fmt.Errorf("order %s is %s, cannot mark paid", order.Reference, order.Status)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guarded increment: refuses the sale if it would exceed capacity.
		result := tx.Model(&models.Concert{}).
			Where("id = ? AND (capacity IS NULL OR tickets_sold + ? <= capacity)", order.ConcertID, order.Quantity).
			UpdateColumn("tickets_sold", gorm.Expr("tickets_sold + ?", order.Quantity))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errSoldOut
		}

		now := time.Now()
		return tx.Model(&order).Updates(map[string]interface{}{
			"status":                   models.PaymentPaid,
			"paid_at":                  now,
			"stripe_payment_intent_id": paymentIntentID,
		}).Error
	})
	if errors.Is(err, errSoldOut) {
		// Sold out between checkout and payment. Refund and void the order.
		if _, refundErr := s.gateway.Refund(ctx, paymentIntentID); refundErr != nil {
			s.logger.Error().Err(refundErr).Str("reference", order.Reference).Msg("failed to refund oversold order")
		}
		s.db.WithContext(ctx).Model(&order).Updates(map[string]interface{}{
			"status":                   models.PaymentRefunded,
			"stripe_payment_intent_id": paymentIntentID,
		})
		s.redis.ReleaseHold(ctx, redis.HoldConcert, order.ConcertID, order.Reference)
		return nil, fmt.Errorf("concert sold out, order %s refunded", order.Reference)
	}
	if err != nil {
		return nil, err
	}

	if err := s.redis.ReleaseHold(ctx, redis.HoldConcert, order.ConcertID, order.Reference); err != nil {
		s.logger.Warn().Err(err).Str("reference", order.Reference).Msg("failed to release concert hold")
	}

	monitoring.PaymentsCompleted.WithLabelValues("ticket_order").Inc()
	order.Status = models.PaymentPaid
	order.StripePaymentIntentID = paymentIntentID
	s.sendConfirmation(&order)

	return &order, nil
}

var errSoldOut = errors.New("concert sold out")

// ExpireSession voids the pending order for an expired checkout session.
func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	var order models.TicketOrder
	if err := s.db.WithContext(ctx).First(&order, "stripe_checkout_session_id = ?", sessionID).Error; err != nil {
		return err
	}
	if order.Status != models.PaymentPending {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&order).Update("status", models.PaymentExpired).Error; err != nil {
		return err
	}
	monitoring.CheckoutsExpired.WithLabelValues("ticket_order").Inc()
	if err := s.redis.ReleaseHold(ctx, redis.HoldConcert, order.ConcertID, order.Reference); err != nil {
		s.logger.Warn().Err(err).Str("reference", order.Reference).Msg("failed to release concert hold")
	}
	return nil
}

func (s *Service) sendConfirmation(order *models.TicketOrder) {
	if order.ConfirmationSent {
		return
	}
	concert := order.Concert
	if concert == nil {
		var loaded models.Concert
		if err := s.db.First(&loaded, order.ConcertID).Error; err != nil {
			s.logger.Error().Err(err).Str("reference", order.Reference).Msg("failed to load concert for confirmation email")
			return
		}
		concert = &loaded
	}

	msg, err := mailer.TicketConfirmation(order, concert)
	if err != nil {
		s.logger.Error().Err(err).Str("reference", order.Reference).Msg("failed to build confirmation email")
		monitoring.EmailsSent.WithLabelValues("ticket_confirmation", "error").Inc()
		return
	}
	if err := s.mail.Send(msg); err != nil {
		s.logger.Error().Err(err).Str("reference", order.Reference).Msg("failed to send confirmation email")
		monitoring.EmailsSent.WithLabelValues("ticket_confirmation", "error").Inc()
		return
	}

	s.db.Model(order).Update("confirmation_sent", true)
	monitoring.EmailsSent.WithLabelValues("ticket_confirmation", "ok").Inc()
}
