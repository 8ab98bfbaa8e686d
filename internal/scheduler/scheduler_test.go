package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/redis"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeSyncer struct {
	calls int
}

func (f *fakeSyncer) SyncFees(ctx context.Context) (int, error) {
	f.calls++
	return 0, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.Migrate(db))

	cfg := &config.Config{
		CheckoutWindow:    30 * time.Minute,
		SchedulerInterval: time.Minute,
		FeeSyncInterval:   time.Hour,
		RedisHost:         "localhost",
		RedisPort:         "0",
	}

	return New(db, redis.NewClient(cfg), &fakeSyncer{}, cfg, zerolog.Nop()), db
}

func TestExpirePending(t *testing.T) {
	s, db := newTestScheduler(t)

	concert := models.Concert{
		Title:        "Spring Concert",
		Slug:         "spring-concert",
		Date:         time.Now().AddDate(0, 1, 0),
		StartTime:    "19:30",
		TicketSource: models.TicketSourceInternal,
		FullPrice:    decimal.NewFromInt(15),
		Status:       models.StatusPublished,
	}
	require.NoError(t, db.Create(&concert).Error)

	stale := models.TicketOrder{
		ConcertID:  concert.ID,
		Reference:  models.NewReference("PT"),
		Email:      "stale@example.com",
		Name:       "Stale",
		TicketType: models.TicketTypeFull,
		Quantity:   1,
		UnitPrice:  decimal.NewFromInt(15),
		TotalPrice: decimal.NewFromInt(15),
		Status:     models.PaymentPending,
	}
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&stale).Error)

	fresh := stale
	fresh.ID = 0
	fresh.Reference = models.NewReference("PT")
	fresh.Email = "fresh@example.com"
	fresh.CreatedAt = time.Now()
	require.NoError(t, db.Create(&fresh).Error)

	s.expirePending(context.Background())

	var reloaded models.TicketOrder
	require.NoError(t, db.First(&reloaded, stale.ID).Error)
	assert.Equal(t, models.PaymentExpired, reloaded.Status)

	reloaded = models.TicketOrder{}
	require.NoError(t, db.First(&reloaded, fresh.ID).Error)
	assert.Equal(t, models.PaymentPending, reloaded.Status, "orders inside the window stay pending")
}

func TestExpirePendingRegistrations(t *testing.T) {
	s, db := newTestScheduler(t)

	workshop := models.Workshop{
		Title:           "Consort Day",
		Slug:            "consort-day",
		Date:            time.Now().AddDate(0, 1, 0),
		StartTime:       "10:00",
		EndTime:         "16:00",
		Price:           decimal.NewFromInt(45),
		MaxParticipants: 12,
		Status:          models.StatusPublished,
	}
	require.NoError(t, db.Create(&workshop).Error)

	user := models.User{Email: "p@example.com", Username: "p", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)

	stale := models.Registration{
		WorkshopID:   workshop.ID,
		UserID:       user.ID,
		Reference:    models.NewReference("PW"),
		Status:       models.PaymentPending,
		TermsVersion: 1,
	}
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&stale).Error)

	paid := models.Registration{
		WorkshopID:   workshop.ID,
		UserID:       user.ID + 1,
		Reference:    models.NewReference("PW"),
		Status:       models.PaymentPaid,
		TermsVersion: 1,
	}
	paid.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&paid).Error)

	s.expirePending(context.Background())

	var reloaded models.Registration
	require.NoError(t, db.First(&reloaded, stale.ID).Error)
	assert.Equal(t, models.PaymentExpired, reloaded.Status)

	reloaded = models.Registration{}
	require.NoError(t, db.First(&reloaded, paid.ID).Error)
	assert.Equal(t, models.PaymentPaid, reloaded.Status, "paid registrations are never expired")
}
