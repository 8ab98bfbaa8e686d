package payment

import (
	"context"
	"time"
)

// Metadata keys attached to checkout sessions so the webhook handler can
// route events back to the right record.
const (
	MetaType      = "type"
	MetaReference = "reference"

	TypeTicketOrder  = "ticket_order"
	TypeRegistration = "registration"
)

type CheckoutItem struct {
	Name            string
	Description     string
	UnitAmountPence int64
	Quantity        int64
}

type CheckoutParams struct {
	Item          CheckoutItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type SessionStatus struct {
	ID              string
	Paid            bool
	PaymentIntentID string
}

// FeeBreakdown is the processor's settlement figures for a payment, in pence.
type FeeBreakdown struct {
	ChargeID             string
	BalanceTransactionID string
	Gross                int64
	Fee                  int64
	Net                  int64
	Date                 time.Time
}

type WebhookEvent struct {
	Type      string // e.g. "checkout.session.completed"
	SessionID string
	Metadata  map[string]string
}

// Gateway is the payment processor surface the services depend on. The
// production implementation talks to Stripe; tests substitute a fake.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*SessionStatus, error)
	Refund(ctx context.Context, paymentIntentID string) (string, error)
	GetFeeBreakdown(ctx context.Context, paymentIntentID string) (*FeeBreakdown, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
