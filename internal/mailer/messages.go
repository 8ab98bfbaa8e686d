package mailer

import (
	"fmt"
	"strings"

	"github.com/polyphonica/polyphonica/internal/models"
	qrcode "github.com/skip2/go-qrcode"
)

const dateFormat = "Monday 2 January 2006"

// TicketConfirmation builds the concert ticket email. The attached QR code
// encodes the order reference for scanning on the door.
func TicketConfirmation(order *models.TicketOrder, concert *models.Concert) (*Message, error) {
	png, err := qrcode.Encode(order.Reference, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ticket QR code: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", order.Name)
	fmt.Fprintf(&b, "Thank you for your order. Your tickets for %s are confirmed.\n\n", concert.Title)
	fmt.Fprintf(&b, "Order reference: %s\n", order.Reference)
	fmt.Fprintf(&b, "Tickets: %d x %s at £%s\n", order.Quantity, order.TicketType, order.UnitPrice.StringFixed(2))
	fmt.Fprintf(&b, "Total paid: £%s\n\n", order.TotalPrice.StringFixed(2))
	fmt.Fprintf(&b, "Date: %s\n", concert.Date.Format(dateFormat))
	fmt.Fprintf(&b, "Start: %s", concert.StartTime)
	if concert.DoorsOpen != "" {
		fmt.Fprintf(&b, " (doors open %s)", concert.DoorsOpen)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Venue: %s, %s %s\n\n", concert.VenueName, concert.VenueAddress, concert.VenuePostcode)
	b.WriteString("Please show the attached QR code, or quote your order reference, at the door.\n\n")
	b.WriteString("We look forward to seeing you.\n\nPolyphonica Recorder Trio\n")

	return &Message{
		To:        order.Email,
		Subject:   fmt.Sprintf("Your tickets for %s", concert.Title),
		PlainBody: b.String(),
		Attachments: []Attachment{
			{Filename: fmt.Sprintf("ticket-%s.png", order.Reference), Data: png},
		},
	}, nil
}

// RegistrationConfirmation builds the workshop registration email. Online
// joining details are included only here, never on public pages.
func RegistrationConfirmation(registration *models.Registration, workshop *models.Workshop, user *models.User) *Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", user.FullName())
	fmt.Fprintf(&b, "Your place on %s is confirmed.\n\n", workshop.Title)
	fmt.Fprintf(&b, "Registration reference: %s\n", registration.Reference)
	fmt.Fprintf(&b, "Amount paid: £%s\n\n", registration.AmountPaid.StringFixed(2))
	fmt.Fprintf(&b, "Date: %s\n", workshop.Date.Format(dateFormat))
	fmt.Fprintf(&b, "Time: %s - %s\n", workshop.StartTime, workshop.EndTime)

	if workshop.IsInPerson() && workshop.VenueName != "" {
		fmt.Fprintf(&b, "Venue: %s, %s %s\n", workshop.VenueName, workshop.VenueAddress, workshop.VenuePostcode)
	}
	if workshop.IsOnline() && workshop.MeetingLink != "" {
		fmt.Fprintf(&b, "Joining link: %s\n", workshop.MeetingLink)
		if workshop.MeetingPassword != "" {
			fmt.Fprintf(&b, "Meeting password: %s\n", workshop.MeetingPassword)
		}
	}
	b.WriteString("\n")

	if workshop.MaterialsNeeded != "" {
		fmt.Fprintf(&b, "Please bring: %s\n\n", workshop.MaterialsNeeded)
	}
	b.WriteString("Any workshop materials will be available to download from your account.\n\n")
	b.WriteString("We look forward to playing with you.\n\nPolyphonica Recorder Trio\n")

	return &Message{
		To:        user.Email,
		Subject:   fmt.Sprintf("Registration confirmed: %s", workshop.Title),
		PlainBody: b.String(),
	}
}

// AccountCreated is sent when registration checkout creates an account for a
// new participant.
func AccountCreated(user *models.User, tempPassword string) *Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", user.FullName())
	b.WriteString("An account has been created for you so you can manage your workshop registrations and download materials.\n\n")
	fmt.Fprintf(&b, "Username: %s\n", user.Username)
	fmt.Fprintf(&b, "Temporary password: %s\n\n", tempPassword)
	b.WriteString("Please log in and change your password.\n\nPolyphonica Recorder Trio\n")

	return &Message{
		To:        user.Email,
		Subject:   "Your Polyphonica account",
		PlainBody: b.String(),
	}
}

// RegistrationCancelled confirms a cancellation, noting whether the payment
// was refunded.
func RegistrationCancelled(registration *models.Registration, workshop *models.Workshop, user *models.User, refunded bool) *Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", user.FullName())
	fmt.Fprintf(&b, "Your registration for %s (reference %s) has been cancelled.\n\n", workshop.Title, registration.Reference)
	if refunded {
		fmt.Fprintf(&b, "A full refund of £%s has been issued to your original payment method. It may take a few days to appear.\n\n", registration.AmountPaid.StringFixed(2))
	} else {
		b.WriteString("As the workshop is less than a week away, this cancellation is not eligible for a refund.\n\n")
	}
	b.WriteString("Polyphonica Recorder Trio\n")

	return &Message{
		To:        user.Email,
		Subject:   fmt.Sprintf("Registration cancelled: %s", workshop.Title),
		PlainBody: b.String(),
	}
}

// ContactMessage forwards a contact form submission to the ensemble inbox,
// with reply-to set to the sender.
func ContactMessage(contactEmail, name, email, subject, body string) *Message {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\n\n", name, email)
	b.WriteString(body)
	b.WriteString("\n")

	return &Message{
		To:        contactEmail,
		ReplyTo:   email,
		Subject:   fmt.Sprintf("Contact form: %s", subject),
		PlainBody: b.String(),
	}
}
