package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeGateway struct {
	config *config.Config
}

func NewStripeGateway(cfg *config.Config) *StripeGateway {
	stripe.Key = cfg.StripeSecretKey
	return &StripeGateway{config: cfg}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(params.CustomerEmail),
		SuccessURL:    stripe.String(params.SuccessURL),
		CancelURL:     stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(params.Item.Quantity),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.config.Currency),
					UnitAmount: stripe.Int64(params.Item.UnitAmountPence),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(params.Item.Name),
						Description: stripe.String(params.Item.Description),
					},
				},
			},
		},
	}
	sessionParams.Context = ctx

	if !params.ExpiresAt.IsZero() {
		sessionParams.ExpiresAt = stripe.Int64(params.ExpiresAt.Unix())
	}
	for key, value := range params.Metadata {
		sessionParams.AddMetadata(key, value)
	}

	s, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := session.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkout session: %w", err)
	}

	status := &SessionStatus{
		ID:   s.ID,
		Paid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if s.PaymentIntent != nil {
		status.PaymentIntentID = s.PaymentIntent.ID
	}

	return status, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create refund: %w", err)
	}

	return r.ID, nil
}

func (g *StripeGateway) GetFeeBreakdown(ctx context.Context, paymentIntentID string) (*FeeBreakdown, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")

	pi, err := paymentintent.Get(paymentIntentID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment intent: %w", err)
	}
	if pi.LatestCharge == nil || pi.LatestCharge.BalanceTransaction == nil {
		return nil, fmt.Errorf("payment intent %s has no settled balance transaction", paymentIntentID)
	}

	txn := pi.LatestCharge.BalanceTransaction
	return &FeeBreakdown{
		ChargeID:             pi.LatestCharge.ID,
		BalanceTransactionID: txn.ID,
		Gross:                txn.Amount,
		Fee:                  txn.Fee,
		Net:                  txn.Net,
		Date:                 time.Unix(txn.Created, 0),
	}, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.config.StripeWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	result := &WebhookEvent{Type: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session event: %w", err)
		}
		result.SessionID = s.ID
		result.Metadata = s.Metadata
	}

	return result, nil
}
