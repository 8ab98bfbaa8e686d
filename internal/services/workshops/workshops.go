package workshops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/mailer"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/monitoring"
	"github.com/polyphonica/polyphonica/internal/payment"
	"github.com/polyphonica/polyphonica/internal/redis"
	"github.com/polyphonica/polyphonica/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Cancellations this many days or more before the workshop get a full refund.
const refundCutoffDays = 7

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
	r.GET("/workshops", s.ListWorkshops)
	r.GET("/workshops/terms/current", s.CurrentTerms)
	r.GET("/workshops/checkout/success", s.CheckoutSuccess)
	r.GET("/workshops/:slug", s.GetWorkshop)
	r.POST("/workshops/:slug/register", s.Register)

	authed := r.Group("/", auth.RequireAuth(s.config))
	authed.GET("/registrations", s.MyRegistrations)
	authed.POST("/registrations/:reference/cancel", s.CancelRegistration)
	authed.GET("/workshops/:slug/materials", s.ListMaterials)
	authed.GET("/workshops/:slug/materials/:materialId/download", s.DownloadMaterial)

	staff := r.Group("/staff", auth.RequireAuth(s.config), auth.RequireStaff())
	staff.GET("/workshops", s.StaffListWorkshops)
	staff.POST("/workshops", s.CreateWorkshop)
	staff.GET("/workshops/:id", s.StaffGetWorkshop)
	staff.PUT("/workshops/:id", s.UpdateWorkshop)
	staff.DELETE("/workshops/:id", s.DeleteWorkshop)
	staff.POST("/workshops/:id/image", s.UploadImage)
	staff.GET("/workshops/:id/registrations", s.ListRegistrations)
	staff.POST("/workshops/:id/registrations/:registrationId/attended", s.MarkAttended)
	staff.POST("/workshops/:id/materials", s.UploadMaterial)
	staff.DELETE("/workshops/:id/materials/:materialId", s.DeleteMaterial)
	staff.GET("/terms", s.ListTerms)
	staff.POST("/terms", s.CreateTerms)
}

func (s *Service) ListWorkshops(c *gin.Context) {
	var workshops []models.Workshop
	if err := s.db.Where("status <> ?", models.StatusDraft).
		Order("date ASC").Find(&workshops).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch workshops",
		})
		return
	}

	now := time.Now()
	upcoming := make([]gin.H, 0)
	past := make([]gin.H, 0)
	for i := range workshops {
		view := s.publicView(&workshops[i])
		if workshops[i].IsPast(now) {
			past = append(past, view)
		} else {
			upcoming = append(upcoming, view)
		}
	}
	for i, j := 0, len(past)-1; i < j; i, j = i+1, j-1 {
		past[i], past[j] = past[j], past[i]
	}

	c.JSON(http.StatusOK, gin.H{
		"upcoming": upcoming,
		"past":     past,
	})
}

func (s *Service) GetWorkshop(c *gin.Context) {
	workshop, ok := s.publishedBySlug(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.publicView(workshop))
}

// publicView never exposes the meeting link or remaining-place counts when
// availability is hidden.
func (s *Service) publicView(workshop *models.Workshop) gin.H {
	view := gin.H{
		"title":            workshop.Title,
		"slug":             workshop.Slug,
		"description":      workshop.Description,
		"shortDescription": workshop.ShortDescription,
		"date":             workshop.Date.Format("2006-01-02"),
		"startTime":        workshop.StartTime,
		"endTime":          workshop.EndTime,
		"durationHours":    workshop.DurationHours,
		"deliveryMethod":   workshop.DeliveryMethod,
		"prerequisites":    workshop.Prerequisites,
		"materialsNeeded":  workshop.MaterialsNeeded,
		"imagePath":        workshop.ImagePath,
		"price":            workshop.Price,
		"status":           workshop.Status,
		"full":             workshop.IsFull(),
	}
	if workshop.IsInPerson() {
		view["venueName"] = workshop.VenueName
		view["venueAddress"] = workshop.VenueAddress
		view["venuePostcode"] = workshop.VenuePostcode
		view["venueMapLink"] = workshop.VenueMapLink
	}
	if !workshop.HideAvailability {
		view["placesRemaining"] = workshop.PlacesRemaining()
	}
	return view
}

func (s *Service) publishedBySlug(c *gin.Context) (*models.Workshop, bool) {
	var workshop models.Workshop
	err := s.db.First(&workshop, "slug = ? AND status <> ?", c.Param("slug"), models.StatusDraft).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Workshop not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch workshop",
		})
		return nil, false
	}
	return &workshop, true
}

func (s *Service) CurrentTerms(c *gin.Context) {
	terms, err := s.currentTerms()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No current terms published",
		})
		return
	}
	c.JSON(http.StatusOK, terms)
}

func (s *Service) currentTerms() (*models.TermsVersion, error) {
	var terms models.TermsVersion
	if err := s.db.First(&terms, "is_current = ?", true).Error; err != nil {
		return nil, err
	}
	return &terms, nil
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName"`

	Phone               string `json:"phone"`
	SpecialRequirements string `json:"specialRequirements"`
	EmergencyContact    string `json:"emergencyContact"`
	Instruments         string `json:"instruments"`

	AcceptTerms  bool `json:"acceptTerms"`
	TermsVersion int  `json:"termsVersion"`
}

// Register starts a workshop registration checkout. Works for logged-in
// users and for newcomers, for whom an account is created on the way.
func (s *Service) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	workshop, ok := s.publishedBySlug(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// Terms must be accepted at the version currently in force.
	terms, err := s.currentTerms()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Workshop terms are not available",
		})
		return
	}
	if !req.AcceptTerms || req.TermsVersion != terms.Version {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "You must accept the current terms and conditions",
			"currentTerms": terms,
		})
		return
	}

	if workshop.Status == models.StatusCancelled {
		c.JSON(http.StatusConflict, gin.H{
			"error": "This workshop has been cancelled",
		})
		return
	}
	if workshop.IsPast(time.Now()) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "This workshop has already taken place",
		})
		return
	}

	// In-person participants must leave contact and instrument details.
	if workshop.IsInPerson() &&
		(strings.TrimSpace(req.EmergencyContact) == "" || strings.TrimSpace(req.Instruments) == "") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Emergency contact and instruments are required for in-person workshops",
		})
		return
	}

	user, status, msg := s.resolveUser(c, &req)
	if status != 0 {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	held, err := s.redis.HeldPlaces(ctx, redis.HoldWorkshop, workshop.ID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("workshopId", workshop.ID).Msg("failed to count held places")
		held = 0
	}
	if workshop.TotalBookings()+held >= workshop.MaxParticipants {
		c.JSON(http.StatusConflict, gin.H{
			"error": "This workshop is fully booked",
		})
		return
	}

	// The hold comes first so a failed registration leaves no pending row.
	reference := models.NewReference("PW")
	if err := s.redis.HoldPlaces(ctx, redis.HoldWorkshop, workshop.ID, reference, 1, s.config.CheckoutWindow); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "A registration is already in progress, please try again shortly",
		})
		return
	}

	registration, status, msg := s.upsertPendingRegistration(workshop, user, &req, terms, reference)
	if status != 0 {
		s.redis.ReleaseHold(ctx, redis.HoldWorkshop, workshop.ID, reference)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	// Free workshops skip the payment provider entirely.
	if workshop.Price.LessThanOrEqual(decimal.Zero) {
		if err := s.confirmRegistration(ctx, registration, "", decimal.Zero); err != nil {
			if errors.Is(err, errWorkshopFull) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "This workshop is fully booked",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to confirm registration",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reference": registration.Reference,
			"status":    models.PaymentPaid,
			"message":   "Registration confirmed",
		})
		return
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, &payment.CheckoutParams{
		Item: payment.CheckoutItem{
			Name:            workshop.Title,
			Description:     fmt.Sprintf("Workshop, %s", workshop.Date.Format("Monday 2 January 2006")),
			UnitAmountPence: workshop.Price.Mul(decimal.NewFromInt(100)).IntPart(),
			Quantity:        1,
		},
		CustomerEmail: user.Email,
		SuccessURL:    s.config.BaseURL + "/workshops/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.config.BaseURL + "/workshops/" + workshop.Slug,
		ExpiresAt:     time.Now().Add(s.config.CheckoutWindow),
		Metadata: map[string]string{
			payment.MetaType:      payment.TypeRegistration,
			payment.MetaReference: registration.Reference,
		},
	})
	if err != nil {
		s.db.Model(registration).Update("status", models.PaymentCancelled)
		s.redis.ReleaseHold(ctx, redis.HoldWorkshop, workshop.ID, registration.Reference)
		s.logger.Error().Err(err).Str("reference", registration.Reference).Msg("failed to create checkout session")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Payment provider unavailable, please try again later",
		})
		return
	}

	if err := s.db.Model(registration).Update("stripe_checkout_session_id", session.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save registration",
		})
		return
	}

	monitoring.CheckoutSessionsCreated.WithLabelValues("registration").Inc()
	c.JSON(http.StatusOK, gin.H{
		"reference":   registration.Reference,
		"checkoutUrl": session.URL,
		"expiresAt":   time.Now().Add(s.config.CheckoutWindow),
	})
}

// resolveUser returns the authenticated user, or finds/creates one by email.
// Staff accounts are blocked from registering.
func (s *Service) resolveUser(c *gin.Context, req *registerRequest) (*models.User, int, string) {
	if header := c.GetHeader("Authorization"); header != "" {
		tokenString, err := auth.ExtractTokenFromHeader(header)
		if err != nil {
			return nil, http.StatusUnauthorized, "Invalid authorization header"
		}
		claims, err := auth.ValidateToken(s.config, tokenString)
		if err != nil {
			return nil, http.StatusUnauthorized, "Invalid token"
		}
		var user models.User
		if err := s.db.First(&user, claims.UserID).Error; err != nil {
			return nil, http.StatusUnauthorized, "Account not found"
		}
		if user.IsStaff {
			return nil, http.StatusForbidden, "Staff accounts cannot register for workshops"
		}
		return &user, 0, ""
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var user models.User
	err := s.db.First(&user, "email = ?", email).Error
	if err == nil {
		if user.IsStaff {
			return nil, http.StatusForbidden, "Staff accounts cannot register for workshops"
		}
		return &user, 0, ""
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, http.StatusInternalServerError, "Failed to look up account"
	}

	tempPassword := uuid.NewString()[:12]
	hash, err := auth.HashPassword(tempPassword)
	if err != nil {
		return nil, http.StatusInternalServerError, "Failed to create account"
	}

	user = models.User{
		Email:        email,
		Username:     s.uniqueUsername(email),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, http.StatusInternalServerError, "Failed to create account"
	}

	if err := s.mail.Send(mailer.AccountCreated(&user, tempPassword)); err != nil {
		s.logger.Error().Err(err).Str("email", user.Email).Msg("failed to send account email")
		monitoring.EmailsSent.WithLabelValues("account_created", "error").Inc()
	} else {
		monitoring.EmailsSent.WithLabelValues("account_created", "ok").Inc()
	}

	return &user, 0, ""
}

func (s *Service) uniqueUsername(email string) string {
	base, _, _ := strings.Cut(email, "@")
	if base == "" {
		base = "player"
	}
	candidate := base
	for counter := 1; ; counter++ {
		var count int64
		if err := s.db.Model(&models.User{}).Where("username = ?", candidate).Count(&count).Error; err != nil || count == 0 {
			return candidate
		}
		candidate = fmt.Sprintf("%s%d", base, counter)
	}
}

// upsertPendingRegistration creates a fresh pending registration, or revives
// the user's cancelled/expired one for the same workshop so the one-per-user
// constraint holds.
func (s *Service) upsertPendingRegistration(workshop *models.Workshop, user *models.User, req *registerRequest, terms *models.TermsVersion, reference string) (*models.Registration, int, string) {
	now := time.Now()

	var existing models.Registration
	err := s.db.First(&existing, "workshop_id = ? AND user_id = ?", workshop.ID, user.ID).Error
	if err == nil {
		switch existing.Status {
		case models.PaymentPaid, models.PaymentAttended:
			return nil, http.StatusConflict, "You are already registered for this workshop"
		case models.PaymentPending:
			return nil, http.StatusConflict, "You already have a registration in progress"
		}

		updates := map[string]interface{}{
			"reference":                  reference,
			"status":                     models.PaymentPending,
			"phone":                      req.Phone,
			"special_requirements":       req.SpecialRequirements,
			"emergency_contact":          req.EmergencyContact,
			"instruments":                req.Instruments,
			"amount_paid":                decimal.Zero,
			"stripe_checkout_session_id": "",
			"stripe_payment_intent_id":   "",
			"paid_at":                    nil,
			"terms_version":              terms.Version,
			"terms_accepted_at":          now,
			"confirmation_sent":          false,
		}
		if err := s.db.Model(&existing).Updates(updates).Error; err != nil {
			return nil, http.StatusInternalServerError, "Failed to create registration"
		}
		if err := s.db.First(&existing, existing.ID).Error; err != nil {
			return nil, http.StatusInternalServerError, "Failed to create registration"
		}
		return &existing, 0, ""
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, http.StatusInternalServerError, "Failed to create registration"
	}

	registration := models.Registration{
		WorkshopID:          workshop.ID,
		UserID:              user.ID,
		Reference:           reference,
		Status:              models.PaymentPending,
		Phone:               req.Phone,
		SpecialRequirements: req.SpecialRequirements,
		EmergencyContact:    req.EmergencyContact,
		Instruments:         req.Instruments,
		TermsVersion:        terms.Version,
		TermsAcceptedAt:     &now,
	}
	if err := s.db.Create(&registration).Error; err != nil {
		return nil, http.StatusInternalServerError, "Failed to create registration"
	}
	return &registration, 0, ""
}

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

	registration, err := s.ApplyPaidSession(c.Request.Context(), sessionID, status.PaymentIntentID)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionId", sessionID).Msg("failed to apply paid session")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to complete registration",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference": registration.Reference,
		"status":    registration.Status,
		"message":   "Payment complete, your registration is confirmed",
	})
}

// ApplyPaidSession settles a paid registration checkout. Idempotent; shared
// by the webhook and the success redirect.
func (s *Service) ApplyPaidSession(ctx context.Context, sessionID, paymentIntentID string) (*models.Registration, error) {
	var registration models.Registration
	if err := s.db.WithContext(ctx).Preload("Workshop").Preload("User").
		First(&registration, "stripe_checkout_session_id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("registration for session %s not found: %w", sessionID, err)
	}

	if registration.Status == models.PaymentPaid || registration.Status == models.PaymentAttended {
		return &registration, nil
	}
	if registration.Status != models.PaymentPending && registration.Status != models.PaymentExpired {
		return nil, fmt.Errorf("registration %s is %s, cannot mark paid", registration.Reference, registration.Status)
	}

	amount := decimal.Zero
	if registration.Workshop != nil {
		amount = registration.Workshop.Price
	}

	if err := s.confirmRegistration(ctx, &registration, paymentIntentID, amount); err != nil {
		if !errors.Is(err, errWorkshopFull) {
			return nil, err
		}
		// Filled up between checkout and payment. Refund and void.
		if _, refundErr := s.gateway.Refund(ctx, paymentIntentID); refundErr != nil {
			s.logger.Error().Err(refundErr).Str("reference", registration.Reference).Msg("failed to refund oversubscribed registration")
		}
		s.db.WithContext(ctx).Model(&registration).Updates(map[string]interface{}{
			"status":                   models.PaymentRefunded,
			"stripe_payment_intent_id": paymentIntentID,
		})
		s.redis.ReleaseHold(ctx, redis.HoldWorkshop, registration.WorkshopID, registration.Reference)
		return nil, fmt.Errorf("workshop full, registration %s refunded", registration.Reference)
	}

	return &registration, nil
}

var errWorkshopFull = errors.New("workshop full")

// confirmRegistration bumps the registration counter under the capacity
// guard and marks the registration paid.
func (s *Service) confirmRegistration(ctx context.Context, registration *models.Registration, paymentIntentID string, amount decimal.Decimal) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Workshop{}).
			Where("id = ? AND current_registrations + legacy_bookings + 1 <= max_participants", registration.WorkshopID).
			UpdateColumn("current_registrations", gorm.Expr("current_registrations + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errWorkshopFull
		}

		now := time.Now()
		return tx.Model(registration).Updates(map[string]interface{}{
			"status":                   models.PaymentPaid,
			"paid_at":                  now,
			"amount_paid":              amount,
			"stripe_payment_intent_id": paymentIntentID,
		}).Error
	})
	if err != nil {
		return err
	}

	if err := s.redis.ReleaseHold(ctx, redis.HoldWorkshop, registration.WorkshopID, registration.Reference); err != nil {
		s.logger.Warn().Err(err).Str("reference", registration.Reference).Msg("failed to release workshop hold")
	}

	monitoring.PaymentsCompleted.WithLabelValues("registration").Inc()
	registration.Status = models.PaymentPaid
	registration.AmountPaid = amount
	registration.StripePaymentIntentID = paymentIntentID
	s.sendConfirmation(registration)
	return nil
}

// ExpireSession voids the pending registration for an expired session.
func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	var registration models.Registration
	if err := s.db.WithContext(ctx).First(&registration, "stripe_checkout_session_id = ?", sessionID).Error; err != nil {
		return err
	}
	if registration.Status != models.PaymentPending {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&registration).Update("status", models.PaymentExpired).Error; err != nil {
		return err
	}
	monitoring.CheckoutsExpired.WithLabelValues("registration").Inc()
	if err := s.redis.ReleaseHold(ctx, redis.HoldWorkshop, registration.WorkshopID, registration.Reference); err != nil {
		s.logger.Warn().Err(err).Str("reference", registration.Reference).Msg("failed to release workshop hold")
	}
	return nil
}

func (s *Service) sendConfirmation(registration *models.Registration) {
	if registration.ConfirmationSent {
		return
	}
	workshop := registration.Workshop
	user := registration.User
	if workshop == nil || user == nil {
		var loaded models.Registration
		if err := s.db.Preload("Workshop").Preload("User").First(&loaded, registration.ID).Error; err != nil {
			s.logger.Error().Err(err).Str("reference", registration.Reference).Msg("failed to load registration for confirmation email")
			return
		}
		workshop = loaded.Workshop
		user = loaded.User
	}

	msg := mailer.RegistrationConfirmation(registration, workshop, user)
	if err := s.mail.Send(msg); err != nil {
		s.logger.Error().Err(err).Str("reference", registration.Reference).Msg("failed to send confirmation email")
		monitoring.EmailsSent.WithLabelValues("registration_confirmation", "error").Inc()
		return
	}

	s.db.Model(registration).Update("confirmation_sent", true)
	monitoring.EmailsSent.WithLabelValues("registration_confirmation", "ok").Inc()
}

func (s *Service) MyRegistrations(c *gin.Context) {
	claims := auth.ClaimsFromContext(c)

	var registrations []models.Registration
	if err := s.db.Preload("Workshop").
		Where("user_id = ? AND status IN ?", claims.UserID,
			[]string{models.PaymentPaid, models.PaymentAttended, models.PaymentRefunded, models.PaymentCancelled}).
		Order("created_at DESC").Find(&registrations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch registrations",
		})
		return
	}

	views := make([]gin.H, 0, len(registrations))
	now := time.Now()
	for i := range registrations {
		reg := &registrations[i]
		view := gin.H{
			"reference":    reg.Reference,
			"status":       reg.Status,
			"amountPaid":   reg.AmountPaid,
			"workshop":     reg.Workshop,
			"termsVersion": reg.TermsVersion,
		}
		if reg.Workshop != nil {
			active := reg.Status == models.PaymentPaid
			view["cancellable"] = active && !reg.Workshop.IsPast(now)
			view["refundable"] = active && models.DaysUntil(now, reg.Workshop.Date) >= refundCutoffDays
			// Joining details only for confirmed participants before the day.
			if active && reg.Workshop.IsOnline() && !reg.Workshop.IsPast(now) {
				view["meetingLink"] = reg.Workshop.MeetingLink
				view["meetingPassword"] = reg.Workshop.MeetingPassword
			}
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"registrations": views,
		"count":         len(views),
	})
}

// CancelRegistration frees the place. A full refund is issued when the
// workshop is at least a week away; later cancellations forfeit the fee.
func (s *Service) CancelRegistration(c *gin.Context) {
	claims := auth.ClaimsFromContext(c)

	var registration models.Registration
	err := s.db.Preload("Workshop").Preload("User").
		First(&registration, "reference = ? AND user_id = ?", c.Param("reference"), claims.UserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Registration not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch registration",
		})
		return
	}

	if registration.Status != models.PaymentPaid {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Only paid registrations can be cancelled",
		})
		return
	}
	now := time.Now()
	if registration.Workshop == nil || registration.Workshop.IsPast(now) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "This workshop has already taken place",
		})
		return
	}

	refundable := models.DaysUntil(now, registration.Workshop.Date) >= refundCutoffDays
	ctx := c.Request.Context()

	if refundable {
		if _, err := s.gateway.Refund(ctx, registration.StripePaymentIntentID); err != nil {
			s.logger.Error().Err(err).Str("reference", registration.Reference).Msg("refund failed")
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Refund failed, please contact us",
			})
			return
		}
		monitoring.RefundsIssued.Inc()
	}

	newStatus := models.PaymentCancelled
	if refundable {
		newStatus = models.PaymentRefunded
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&registration).Update("status", newStatus).Error; err != nil {
			return err
		}
		return tx.Model(&models.Workshop{}).
			Where("id = ? AND current_registrations > 0", registration.WorkshopID).
			UpdateColumn("current_registrations", gorm.Expr("current_registrations - 1")).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel registration",
		})
		return
	}

	msg := mailer.RegistrationCancelled(&registration, registration.Workshop, registration.User, refundable)
	if err := s.mail.Send(msg); err != nil {
		s.logger.Error().Err(err).Str("reference", registration.Reference).Msg("failed to send cancellation email")
		monitoring.EmailsSent.WithLabelValues("registration_cancelled", "error").Inc()
	} else {
		monitoring.EmailsSent.WithLabelValues("registration_cancelled", "ok").Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"reference": registration.Reference,
		"status":    newStatus,
		"refunded":  refundable,
	})
}
