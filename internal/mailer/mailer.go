package mailer

import (
	"bytes"
	"fmt"
	"net/smtp"

	"github.com/domodwyer/mailyak/v3"
	"github.com/polyphonica/polyphonica/internal/config"
)

type Attachment struct {
	Filename string
	Data     []byte
}

type Message struct {
	To          string
	ReplyTo     string
	Subject     string
	PlainBody   string
	Attachments []Attachment
}

// Mailer sends transactional email. Delivery failures must never fail the
// request that triggered them; callers log and move on.
type Mailer interface {
	Send(msg *Message) error
}

type SMTPMailer struct {
	config *config.Config
}

func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	return &SMTPMailer{config: cfg}
}

func (m *SMTPMailer) Send(msg *Message) error {
	var auth smtp.Auth
	if m.config.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.config.SMTPUser, m.config.SMTPPassword, m.config.SMTPHost)
	}

	mail := mailyak.New(fmt.Sprintf("%s:%s", m.config.SMTPHost, m.config.SMTPPort), auth)
	mail.From(m.config.FromEmail)
	mail.FromName("Polyphonica Recorder Trio")
	mail.To(msg.To)
	if msg.ReplyTo != "" {
		mail.ReplyTo(msg.ReplyTo)
	}
	mail.Subject(msg.Subject)
	mail.Plain().Set(msg.PlainBody)

	for _, attachment := range msg.Attachments {
		mail.Attach(attachment.Filename, bytes.NewReader(attachment.Data))
	}

	if err := mail.Send(); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	return nil
}
