package mailer

import (
	"testing"
	"time"

	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketConfirmation(t *testing.T) {
	concert := &models.Concert{
		Title:     "A Night of Early Music",
		Date:      time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC),
		StartTime: "19:30",
		DoorsOpen: "19:00",
		VenueName: "St Mary's Church",
	}
	order := &models.TicketOrder{
		Reference:  "PT-ABCD1234",
		Email:      "guest@example.com",
		Name:       "Pat Guest",
		TicketType: models.TicketTypeFull,
		Quantity:   2,
		UnitPrice:  decimal.NewFromInt(15),
		TotalPrice: decimal.NewFromInt(30),
	}

	msg, err := TicketConfirmation(order, concert)
	require.NoError(t, err)

	assert.Equal(t, "guest@example.com", msg.To)
	assert.Contains(t, msg.Subject, "A Night of Early Music")
	assert.Contains(t, msg.PlainBody, "PT-ABCD1234")
	assert.Contains(t, msg.PlainBody, "2 x full at £15.00")
	assert.Contains(t, msg.PlainBody, "£30.00")
	assert.Contains(t, msg.PlainBody, "Saturday 12 September 2026")
	assert.Contains(t, msg.PlainBody, "doors open 19:00")

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "ticket-PT-ABCD1234.png", msg.Attachments[0].Filename)
	assert.NotEmpty(t, msg.Attachments[0].Data)
}

func TestRegistrationConfirmationOnline(t *testing.T) {
	workshop := &models.Workshop{
		Title:           "Renaissance Consort Day",
		Date:            time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC),
		StartTime:       "10:00",
		EndTime:         "16:00",
		DeliveryMethod:  models.DeliveryOnline,
		MeetingLink:     "https://meet.example.com/consort",
		MeetingPassword: "recorder",
		VenueName:       "Should Not Appear Hall",
	}
	user := &models.User{Email: "player@example.com", FirstName: "Ann", LastName: "Smith"}
	registration := &models.Registration{Reference: "PW-11112222", AmountPaid: decimal.NewFromInt(45)}

	msg := RegistrationConfirmation(registration, workshop, user)

	assert.Equal(t, "player@example.com", msg.To)
	assert.Contains(t, msg.PlainBody, "Dear Ann Smith")
	assert.Contains(t, msg.PlainBody, "PW-11112222")
	assert.Contains(t, msg.PlainBody, "https://meet.example.com/consort")
	assert.Contains(t, msg.PlainBody, "Meeting password: recorder")
	assert.NotContains(t, msg.PlainBody, "Should Not Appear Hall")
}

func TestRegistrationConfirmationInPerson(t *testing.T) {
	workshop := &models.Workshop{
		Title:           "Beginners' Recorder Morning",
		Date:            time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC),
		StartTime:       "10:00",
		EndTime:         "12:30",
		DeliveryMethod:  models.DeliveryInPerson,
		VenueName:       "Village Hall",
		VenueAddress:    "1 High Street",
		VenuePostcode:   "AB1 2CD",
		MeetingLink:     "https://meet.example.com/secret",
		MaterialsNeeded: "A descant recorder",
	}
	user := &models.User{Email: "player@example.com", Username: "player1"}
	registration := &models.Registration{Reference: "PW-33334444", AmountPaid: decimal.Zero}

	msg := RegistrationConfirmation(registration, workshop, user)

	assert.Contains(t, msg.PlainBody, "Village Hall")
	assert.Contains(t, msg.PlainBody, "Please bring: A descant recorder")
	assert.NotContains(t, msg.PlainBody, "https://meet.example.com/secret")
}

func TestRegistrationCancelled(t *testing.T) {
	workshop := &models.Workshop{Title: "Consort Day"}
	user := &models.User{Email: "player@example.com", Username: "player1"}
	registration := &models.Registration{Reference: "PW-55556666", AmountPaid: decimal.NewFromInt(45)}

	refunded := RegistrationCancelled(registration, workshop, user, true)
	assert.Contains(t, refunded.PlainBody, "full refund of £45.00")

	kept := RegistrationCancelled(registration, workshop, user, false)
	assert.Contains(t, kept.PlainBody, "not eligible for a refund")
}

func TestAccountCreated(t *testing.T) {
	user := &models.User{Email: "new@example.com", Username: "newplayer"}

	msg := AccountCreated(user, "temp-pass-123")

	assert.Equal(t, "new@example.com", msg.To)
	assert.Contains(t, msg.PlainBody, "Username: newplayer")
	assert.Contains(t, msg.PlainBody, "temp-pass-123")
}

func TestContactMessage(t *testing.T) {
	msg := ContactMessage("info@example.com", "Sam", "sam@example.com", "Booking enquiry", "Do you play weddings?")

	assert.Equal(t, "info@example.com", msg.To)
	assert.Equal(t, "sam@example.com", msg.ReplyTo)
	assert.Equal(t, "Contact form: Booking enquiry", msg.Subject)
	assert.Contains(t, msg.PlainBody, "Sam <sam@example.com>")
	assert.Contains(t, msg.PlainBody, "Do you play weddings?")
}
