package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))
	return db
}

func TestEnsureSlug(t *testing.T) {
	db := testDB(t)

	slug, err := EnsureSlug(db, &Concert{}, "", "Summer Concert 2026", 0)
	require.NoError(t, err)
	assert.Equal(t, "summer-concert-2026", slug)

	require.NoError(t, db.Create(&Concert{
		Title:     "Summer Concert 2026",
		Slug:      slug,
		Date:      time.Now(),
		StartTime: "19:30",
	}).Error)

	// Collision appends a counter.
	slug, err = EnsureSlug(db, &Concert{}, "", "Summer Concert 2026", 0)
	require.NoError(t, err)
	assert.Equal(t, "summer-concert-2026-1", slug)

	// An existing slug is never replaced.
	slug, err = EnsureSlug(db, &Concert{}, "keep-this", "Summer Concert 2026", 0)
	require.NoError(t, err)
	assert.Equal(t, "keep-this", slug)
}

func TestEnsureSlugExcludesSelf(t *testing.T) {
	db := testDB(t)

	concert := Concert{Title: "Winter Concert", Slug: "winter-concert", Date: time.Now(), StartTime: "19:00"}
	require.NoError(t, db.Create(&concert).Error)

	// Updating the same record should not see its own slug as a collision.
	slug, err := EnsureSlug(db, &Concert{}, "", "Winter Concert", concert.ID)
	require.NoError(t, err)
	assert.Equal(t, "winter-concert", slug)
}

func TestConcertIsPast(t *testing.T) {
	now := time.Date(2026, 6, 15, 14, 0, 0, 0, time.UTC)

	yesterday := Concert{Date: time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)}
	today := Concert{Date: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)}
	tomorrow := Concert{Date: time.Date(2026, 6, 16, 0, 0, 0, 0, time.UTC)}

	assert.True(t, yesterday.IsPast(now))
	assert.False(t, today.IsPast(now), "a concert is not past on the day itself")
	assert.False(t, tomorrow.IsPast(now))
}

func TestConcertCapacity(t *testing.T) {
	capacity := 80

	internal := Concert{TicketSource: TicketSourceInternal, Capacity: &capacity, TicketsSold: 78}
	require.NotNil(t, internal.TicketsRemaining())
	assert.Equal(t, 2, *internal.TicketsRemaining())
	assert.False(t, internal.IsSoldOut())

	internal.TicketsSold = 80
	assert.True(t, internal.IsSoldOut())
	assert.Equal(t, 0, *internal.TicketsRemaining())

	unlimited := Concert{TicketSource: TicketSourceInternal, TicketsSold: 500}
	assert.Nil(t, unlimited.TicketsRemaining())
	assert.False(t, unlimited.IsSoldOut())

	external := Concert{TicketSource: TicketSourceExternal, Capacity: &capacity, TicketsSold: 80}
	assert.Nil(t, external.TicketsRemaining())
	assert.False(t, external.IsSoldOut())
}

func TestConcertUnitPrice(t *testing.T) {
	concert := Concert{
		FullPrice:     decimal.NewFromInt(15),
		DiscountPrice: decimal.NewFromInt(10),
	}

	assert.True(t, concert.UnitPrice(TicketTypeFull).Equal(decimal.NewFromInt(15)))
	assert.True(t, concert.UnitPrice(TicketTypeDiscount).Equal(decimal.NewFromInt(10)))
}

func TestWorkshopBookings(t *testing.T) {
	workshop := Workshop{MaxParticipants: 12, CurrentRegistrations: 7, LegacyBookings: 3}

	assert.Equal(t, 10, workshop.TotalBookings())
	assert.Equal(t, 2, workshop.PlacesRemaining())
	assert.False(t, workshop.IsFull())

	workshop.CurrentRegistrations = 9
	assert.True(t, workshop.IsFull())
	assert.Equal(t, 0, workshop.PlacesRemaining())
}

func TestWorkshopDeliveryMethods(t *testing.T) {
	online := Workshop{DeliveryMethod: DeliveryOnline}
	assert.True(t, online.IsOnline())
	assert.False(t, online.IsInPerson())

	inPerson := Workshop{DeliveryMethod: DeliveryInPerson}
	assert.False(t, inPerson.IsOnline())
	assert.True(t, inPerson.IsInPerson())

	hybrid := Workshop{DeliveryMethod: DeliveryHybrid}
	assert.True(t, hybrid.IsOnline())
	assert.True(t, hybrid.IsInPerson())
}

func TestComputeDuration(t *testing.T) {
	tests := []struct {
		start, end string
		want       string
	}{
		{"10:00", "12:30", "2.5"},
		{"10:00", "13:00", "3"},
		{"10:00", "11:40", "1.5"}, // rounded to the nearest half hour
		{"22:00", "00:30", "2.5"}, // wraps midnight
	}

	for _, tt := range tests {
		workshop := Workshop{StartTime: tt.start, EndTime: tt.end}
		workshop.ComputeDuration()
		assert.Equal(t, tt.want, workshop.DurationHours.String(), "%s-%s", tt.start, tt.end)
	}
}

func TestComputeDurationInvalidTimes(t *testing.T) {
	workshop := Workshop{StartTime: "not a time", EndTime: "12:00"}
	workshop.ComputeDuration()
	assert.True(t, workshop.DurationHours.IsZero())
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysUntil(now, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 7, DaysUntil(now, time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, -1, DaysUntil(now, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
}

func TestMaterialAvailableOn(t *testing.T) {
	workshopDate := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 5, 8, 12, 0, 0, 0, time.UTC)
	onTheDay := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	after := time.Date(2026, 5, 12, 12, 0, 0, 0, time.UTC)

	preReading := WorkshopMaterial{AvailableBefore: true, AvailableAfter: false}
	assert.True(t, preReading.AvailableOn(before, workshopDate))
	assert.False(t, preReading.AvailableOn(onTheDay, workshopDate))
	assert.False(t, preReading.AvailableOn(after, workshopDate))

	recording := WorkshopMaterial{AvailableBefore: false, AvailableAfter: true}
	assert.False(t, recording.AvailableOn(before, workshopDate))
	assert.True(t, recording.AvailableOn(onTheDay, workshopDate))
	assert.True(t, recording.AvailableOn(after, workshopDate))
}

func TestUserFullName(t *testing.T) {
	assert.Equal(t, "Ann Smith", (&User{FirstName: "Ann", LastName: "Smith"}).FullName())
	assert.Equal(t, "Ann", (&User{FirstName: "Ann"}).FullName())
	assert.Equal(t, "asmith", (&User{Username: "asmith"}).FullName())
}

func TestNewReference(t *testing.T) {
	format := regexp.MustCompile(`^PT-[0-9A-F]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref := NewReference("PT")
		assert.Regexp(t, format, ref)
		assert.False(t, seen[ref], "references must not repeat")
		seen[ref] = true
	}
}
