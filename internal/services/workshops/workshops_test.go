package workshops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/auth"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/mailer"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/payment"
	"github.com/polyphonica/polyphonica/internal/redis"
	"github.com/polyphonica/polyphonica/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGateway struct {
	sessions map[string]*payment.SessionStatus
	refunds  []string
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params *payment.CheckoutParams) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*payment.SessionStatus, error) {
	status, ok := g.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	return status, nil
}

func (g *fakeGateway) Refund(ctx context.Context, paymentIntentID string) (string, error) {
	g.refunds = append(g.refunds, paymentIntentID)
	return "re_test", nil
}

func (g *fakeGateway) GetFeeBreakdown(ctx context.Context, paymentIntentID string) (*payment.FeeBreakdown, error) {
	return nil, errors.New("not settled")
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return nil, errors.New("not implemented")
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []*mailer.Message
}

func (m *fakeMailer) Send(msg *mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *config.Config, *fakeGateway, *fakeMailer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.Migrate(db))

	cfg := &config.Config{
		BaseURL:        "http://test.local",
		JWTSecret:      "test-secret",
		JWTExpiry:      time.Hour,
		CheckoutWindow: 30 * time.Minute,
		RedisHost:      "localhost",
		RedisPort:      "0",
	}

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	gateway := &fakeGateway{sessions: map[string]*payment.SessionStatus{}}
	mail := &fakeMailer{}

	svc := NewService(db, redis.NewClient(cfg), gateway, mail, store, cfg, zerolog.Nop())
	return svc, db, cfg, gateway, mail
}

func seedTerms(t *testing.T, db *gorm.DB, version int) *models.TermsVersion {
	t.Helper()
	terms := models.TermsVersion{
		Version:       version,
		Content:       "Cancellations a week or more ahead are refunded in full.",
		EffectiveDate: time.Now(),
		IsCurrent:     true,
	}
	require.NoError(t, db.Create(&terms).Error)
	return &terms
}

func futureWorkshop() *models.Workshop {
	return &models.Workshop{
		Title:           "Renaissance Consort Day",
		Slug:            "renaissance-consort-day",
		Date:            time.Now().AddDate(0, 1, 0),
		StartTime:       "10:00",
		EndTime:         "16:00",
		DeliveryMethod:  models.DeliveryInPerson,
		VenueName:       "Village Hall",
		Price:           decimal.NewFromInt(45),
		MaxParticipants: 12,
		Status:          models.StatusPublished,
	}
}

func createUser(t *testing.T, db *gorm.DB, email string, isStaff bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	user := models.User{
		Email:        email,
		Username:     email[:len(email)-len("@example.com")],
		PasswordHash: hash,
		IsStaff:      isStaff,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func registerBody(termsVersion int) gin.H {
	return gin.H{
		"email":            "newplayer@example.com",
		"firstName":        "New",
		"lastName":         "Player",
		"emergencyContact": "Pat Player 07700 900999",
		"instruments":      "Treble and tenor recorders",
		"acceptTerms":      true,
		"termsVersion":     termsVersion,
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func testRouter(svc *Service) *gin.Engine {
	r := gin.New()
	svc.SetupRoutes(r)
	return r
}

func TestGetWorkshopHidesDraftsAndMeetingDetails(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)
	r := testRouter(svc)

	workshop := futureWorkshop()
	workshop.Status = models.StatusDraft
	workshop.DeliveryMethod = models.DeliveryOnline
	workshop.MeetingLink = "https://meet.example.com/secret"
	require.NoError(t, db.Create(workshop).Error)

	code, _ := doJSON(t, r, "GET", "/workshops/renaissance-consort-day", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, db.Model(workshop).Update("status", models.StatusPublished).Error)
	code, body := doJSON(t, r, "GET", "/workshops/renaissance-consort-day", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "meetingLink")
	assert.NotContains(t, body, "venueName", "online workshops carry no venue")
}

func TestPublicViewHideAvailability(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)
	r := testRouter(svc)

	workshop := futureWorkshop()
	workshop.HideAvailability = true
	require.NoError(t, db.Create(workshop).Error)

	_, body := doJSON(t, r, "GET", "/workshops/renaissance-consort-day", "", nil)
	assert.NotContains(t, body, "placesRemaining")

	require.NoError(t, db.Model(workshop).Update("hide_availability", false).Error)
	_, body = doJSON(t, r, "GET", "/workshops/renaissance-consort-day", "", nil)
	assert.Equal(t, float64(12), body["placesRemaining"])
}

func TestRegisterRequiresCurrentTerms(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)
	r := testRouter(svc)

	seedTerms(t, db, 3)
	require.NoError(t, db.Create(futureWorkshop()).Error)

	// Stale version.
	code, body := doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", "", registerBody(2))
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	current, ok := body["currentTerms"].(map[string]interface{})
	require.True(t, ok, "the rejection must include the terms to accept")
	assert.Equal(t, float64(3), current["version"])

	// Terms not accepted at all.
	payload := registerBody(3)
	payload["acceptTerms"] = false
	code, _ = doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", "", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestRegisterBlocksStaff(t *testing.T) {
	svc, db, cfg, _, _ := newTestService(t)
	r := testRouter(svc)

	seedTerms(t, db, 1)
	require.NoError(t, db.Create(futureWorkshop()).Error)
	staff := createUser(t, db, "admin@example.com", true)

	token, err := auth.GenerateToken(cfg, staff.ID, staff.Email, true)
	require.NoError(t, err)

	code, body := doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", token, registerBody(1))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, body["error"], "Staff accounts")
}

func TestRegisterInPersonRequiresContactDetails(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)
	r := testRouter(svc)

	seedTerms(t, db, 1)
	require.NoError(t, db.Create(futureWorkshop()).Error)

	payload := registerBody(1)
	delete(payload, "emergencyContact")
	delete(payload, "instruments")

	code, body := doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", "", payload)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "Emergency contact")

	var users int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	assert.Zero(t, users, "rejected registrations must not create accounts")

	// Online workshops have no such requirement.
	require.NoError(t, db.Model(&models.Workshop{}).
		Where("slug = ?", "renaissance-consort-day").
		Update("delivery_method", models.DeliveryOnline).Error)
	code, _ = doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", "", payload)
	assert.NotEqual(t, http.StatusBadRequest, code)
}

func TestRegisterFullWorkshop(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)
	r := testRouter(svc)

	seedTerms(t, db, 1)
	workshop := futureWorkshop()
	workshop.MaxParticipants = 10
	workshop.CurrentRegistrations = 8
	workshop.LegacyBookings = 2
	require.NoError(t, db.Create(workshop).Error)

	code, body := doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", "", registerBody(1))
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "fully booked")
}

func TestRegisterCreatesGuestAccount(t *testing.T) {
	svc, db, _, _, mail := newTestService(t)
	r := testRouter(svc)

	seedTerms(t, db, 1)
	workshop := futureWorkshop()
	workshop.MaxParticipants = 1
	workshop.CurrentRegistrations = 1
	require.NoError(t, db.Create(workshop).Error)

	// The registration is refused (full), but the account lookup-or-create
	// happens first so the participant can log in later.
	doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", "", registerBody(1))

	var user models.User
	require.NoError(t, db.First(&user, "email = ?", "newplayer@example.com").Error)
	assert.Equal(t, "newplayer", user.Username)
	assert.Equal(t, "New", user.FirstName)
	assert.False(t, user.IsStaff)

	require.Len(t, mail.sent, 1)
	assert.Contains(t, mail.sent[0].PlainBody, "Username: newplayer")
}

func TestRegisterFailedHoldLeavesNoPendingRow(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)
	r := testRouter(svc)

	seedTerms(t, db, 1)
	require.NoError(t, db.Create(futureWorkshop()).Error)

	// No redis server is reachable, so the hold fails and checkout stops.
	code, _ := doJSON(t, r, "POST", "/workshops/renaissance-consort-day/register", "", registerBody(1))
	require.Equal(t, http.StatusConflict, code)

	var pending int64
	require.NoError(t, db.Model(&models.Registration{}).
		Where("status = ?", models.PaymentPending).Count(&pending).Error)
	assert.Zero(t, pending, "a failed hold must not strand a pending registration")
}

func TestConfirmRegistrationCapacityGuard(t *testing.T) {
	svc, db, _, _, mail := newTestService(t)

	workshop := futureWorkshop()
	workshop.MaxParticipants = 1
	require.NoError(t, db.Create(workshop).Error)
	user := createUser(t, db, "player@example.com", false)

	registration := models.Registration{
		WorkshopID: workshop.ID,
		UserID:     user.ID,
		Reference:  models.NewReference("PW"),
		Status:     models.PaymentPending,
	}
	require.NoError(t, db.Create(&registration).Error)

	err := svc.confirmRegistration(context.Background(), &registration, "pi_1", workshop.Price)
	require.NoError(t, err)

	var reloaded models.Registration
	require.NoError(t, db.First(&reloaded, registration.ID).Error)
	assert.Equal(t, models.PaymentPaid, reloaded.Status)
	assert.Equal(t, "45", reloaded.AmountPaid.String())
	require.Len(t, mail.sent, 1)

	var updatedWorkshop models.Workshop
	require.NoError(t, db.First(&updatedWorkshop, workshop.ID).Error)
	assert.Equal(t, 1, updatedWorkshop.CurrentRegistrations)

	// Second registration against the last place must hit the guard.
	other := createUser(t, db, "second@example.com", false)
	late := models.Registration{
		WorkshopID: workshop.ID,
		UserID:     other.ID,
		Reference:  models.NewReference("PW"),
		Status:     models.PaymentPending,
	}
	require.NoError(t, db.Create(&late).Error)

	err = svc.confirmRegistration(context.Background(), &late, "pi_2", workshop.Price)
	assert.ErrorIs(t, err, errWorkshopFull)

	require.NoError(t, db.First(&updatedWorkshop, workshop.ID).Error)
	assert.Equal(t, 1, updatedWorkshop.CurrentRegistrations, "the guard must not overbook")
}

func TestConfirmRegistrationConcurrentAttempts(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)

	workshop := futureWorkshop()
	workshop.MaxParticipants = 3
	require.NoError(t, db.Create(workshop).Error)

	const attempts = 8
	registrations := make([]*models.Registration, attempts)
	for i := range registrations {
		user := createUser(t, db, fmt.Sprintf("player%d@example.com", i), false)
		registration := &models.Registration{
			WorkshopID: workshop.ID,
			UserID:     user.ID,
			Reference:  models.NewReference("PW"),
			Status:     models.PaymentPending,
		}
		require.NoError(t, db.Create(registration).Error)
		registrations[i] = registration
	}

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for _, registration := range registrations {
		wg.Add(1)
		go func(reg *models.Registration) {
			defer wg.Done()
			results <- svc.confirmRegistration(context.Background(), reg, "pi_late", workshop.Price)
		}(registration)
	}
	wg.Wait()
	close(results)

	confirmed := 0
	for err := range results {
		if err == nil {
			confirmed++
		} else {
			assert.ErrorIs(t, err, errWorkshopFull)
		}
	}
	assert.Equal(t, 3, confirmed)

	var reloaded models.Workshop
	require.NoError(t, db.First(&reloaded, workshop.ID).Error)
	assert.Equal(t, 3, reloaded.CurrentRegistrations, "capacity must hold under concurrent confirmations")
}

func TestApplyPaidSessionRefundsWhenFull(t *testing.T) {
	svc, db, _, gateway, _ := newTestService(t)

	workshop := futureWorkshop()
	workshop.MaxParticipants = 1
	workshop.CurrentRegistrations = 1
	require.NoError(t, db.Create(workshop).Error)
	user := createUser(t, db, "late@example.com", false)

	registration := models.Registration{
		WorkshopID:              workshop.ID,
		UserID:                  user.ID,
		Reference:               models.NewReference("PW"),
		Status:                  models.PaymentPending,
		StripeCheckoutSessionID: "cs_full",
	}
	require.NoError(t, db.Create(&registration).Error)

	_, err := svc.ApplyPaidSession(context.Background(), "cs_full", "pi_full")
	require.Error(t, err)

	assert.Equal(t, []string{"pi_full"}, gateway.refunds)

	var reloaded models.Registration
	require.NoError(t, db.First(&reloaded, registration.ID).Error)
	assert.Equal(t, models.PaymentRefunded, reloaded.Status)
}

func TestApplyPaidSessionIdempotent(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)

	workshop := futureWorkshop()
	require.NoError(t, db.Create(workshop).Error)
	user := createUser(t, db, "player@example.com", false)

	registration := models.Registration{
		WorkshopID:              workshop.ID,
		UserID:                  user.ID,
		Reference:               models.NewReference("PW"),
		Status:                  models.PaymentPending,
		StripeCheckoutSessionID: "cs_once",
	}
	require.NoError(t, db.Create(&registration).Error)

	_, err := svc.ApplyPaidSession(context.Background(), "cs_once", "pi_once")
	require.NoError(t, err)
	_, err = svc.ApplyPaidSession(context.Background(), "cs_once", "pi_once")
	require.NoError(t, err)

	var updatedWorkshop models.Workshop
	require.NoError(t, db.First(&updatedWorkshop, workshop.ID).Error)
	assert.Equal(t, 1, updatedWorkshop.CurrentRegistrations)
}

func TestUpsertRevivesCancelledRegistration(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)

	terms := seedTerms(t, db, 2)
	workshop := futureWorkshop()
	require.NoError(t, db.Create(workshop).Error)
	user := createUser(t, db, "returning@example.com", false)

	cancelled := models.Registration{
		WorkshopID:   workshop.ID,
		UserID:       user.ID,
		Reference:    "PW-OLDREF01",
		Status:       models.PaymentCancelled,
		TermsVersion: 1,
	}
	require.NoError(t, db.Create(&cancelled).Error)

	req := &registerRequest{Email: user.Email, FirstName: "Returning", Phone: "07700 900000"}
	reference := models.NewReference("PW")
	revived, status, _ := svc.upsertPendingRegistration(workshop, user, req, terms, reference)
	require.Equal(t, 0, status)

	assert.Equal(t, cancelled.ID, revived.ID, "the unique workshop+user row is reused")
	assert.Equal(t, reference, revived.Reference)
	assert.Equal(t, models.PaymentPending, revived.Status)
	assert.Equal(t, 2, revived.TermsVersion)
	assert.Equal(t, "07700 900000", revived.Phone)
}

func TestUpsertRejectsDuplicateActiveRegistration(t *testing.T) {
	svc, db, _, _, _ := newTestService(t)

	terms := seedTerms(t, db, 1)
	workshop := futureWorkshop()
	require.NoError(t, db.Create(workshop).Error)
	user := createUser(t, db, "player@example.com", false)

	require.NoError(t, db.Create(&models.Registration{
		WorkshopID:   workshop.ID,
		UserID:       user.ID,
		Reference:    models.NewReference("PW"),
		Status:       models.PaymentPaid,
		TermsVersion: 1,
	}).Error)

	req := &registerRequest{Email: user.Email, FirstName: "Player"}
	_, status, msg := svc.upsertPendingRegistration(workshop, user, req, terms, models.NewReference("PW"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, msg, "already registered")
}

func TestCancelRegistrationRefundWindow(t *testing.T) {
	tests := []struct {
		name         string
		daysAhead    int
		wantStatus   string
		wantRefunded bool
	}{
		{"two weeks ahead refunds", 14, models.PaymentRefunded, true},
		{"three days ahead keeps the fee", 3, models.PaymentCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, cfg, gateway, mail := newTestService(t)
			r := testRouter(svc)

			workshop := futureWorkshop()
			workshop.Date = time.Now().AddDate(0, 0, tt.daysAhead)
			workshop.CurrentRegistrations = 1
			require.NoError(t, db.Create(workshop).Error)
			user := createUser(t, db, "player@example.com", false)

			registration := models.Registration{
				WorkshopID:            workshop.ID,
				UserID:                user.ID,
				Reference:             "PW-CANCEL01",
				Status:                models.PaymentPaid,
				AmountPaid:            decimal.NewFromInt(45),
				StripePaymentIntentID: "pi_cancel",
				TermsVersion:          1,
			}
			require.NoError(t, db.Create(&registration).Error)

			token, err := auth.GenerateToken(cfg, user.ID, user.Email, false)
			require.NoError(t, err)

			code, body := doJSON(t, r, "POST", "/registrations/PW-CANCEL01/cancel", token, nil)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.wantRefunded, body["refunded"])

			if tt.wantRefunded {
				assert.Equal(t, []string{"pi_cancel"}, gateway.refunds)
			} else {
				assert.Empty(t, gateway.refunds)
			}

			var updatedWorkshop models.Workshop
			require.NoError(t, db.First(&updatedWorkshop, workshop.ID).Error)
			assert.Equal(t, 0, updatedWorkshop.CurrentRegistrations, "the place is freed either way")

			require.Len(t, mail.sent, 1)
			assert.Contains(t, mail.sent[0].Subject, "Registration cancelled")
		})
	}
}

func TestCancelRegistrationOnlyPaid(t *testing.T) {
	svc, db, cfg, _, _ := newTestService(t)
	r := testRouter(svc)

	workshop := futureWorkshop()
	require.NoError(t, db.Create(workshop).Error)
	user := createUser(t, db, "player@example.com", false)

	require.NoError(t, db.Create(&models.Registration{
		WorkshopID:   workshop.ID,
		UserID:       user.ID,
		Reference:    "PW-PENDING1",
		Status:       models.PaymentPending,
		TermsVersion: 1,
	}).Error)

	token, err := auth.GenerateToken(cfg, user.ID, user.Email, false)
	require.NoError(t, err)

	code, _ := doJSON(t, r, "POST", "/registrations/PW-PENDING1/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCancelRegistrationWrongUser(t *testing.T) {
	svc, db, cfg, _, _ := newTestService(t)
	r := testRouter(svc)

	workshop := futureWorkshop()
	require.NoError(t, db.Create(workshop).Error)
	owner := createUser(t, db, "owner@example.com", false)
	other := createUser(t, db, "other@example.com", false)

	require.NoError(t, db.Create(&models.Registration{
		WorkshopID:   workshop.ID,
		UserID:       owner.ID,
		Reference:    "PW-OWNED001",
		Status:       models.PaymentPaid,
		TermsVersion: 1,
	}).Error)

	token, err := auth.GenerateToken(cfg, other.ID, other.Email, false)
	require.NoError(t, err)

	code, _ := doJSON(t, r, "POST", "/registrations/PW-OWNED001/cancel", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
