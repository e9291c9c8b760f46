package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrWebhookSignature is returned for payloads that fail verification.
var ErrWebhookSignature = errors.New("payments: invalid webhook signature")

// CheckoutCompleted is the subset of a paid Checkout session the order
// workflow needs to capture an order.
type CheckoutCompleted struct {
	EventID   string
	SessionID string
	OrderID   string
	PaymentID string
	PayerID   string
	Paid      bool
}

// StripeWebhookVerifier authenticates Stripe webhook deliveries.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier returns a verifier for the endpoint signing secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	if secret == "" {
		return nil, errors.New("payments: stripe webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// ParseCheckoutCompleted verifies the signature and decodes a
// checkout.session.completed event. Other event types return ok=false.
func (v *StripeWebhookVerifier) ParseCheckoutCompleted(payload []byte, signature string) (CheckoutCompleted, bool, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return CheckoutCompleted{}, false, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return CheckoutCompleted{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return CheckoutCompleted{}, false, fmt.Errorf("payments: decode checkout session: %w", err)
	}
	out := CheckoutCompleted{
		EventID:   event.ID,
		SessionID: session.ID,
		OrderID:   session.Metadata[MetadataOrderID],
		Paid:      session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if out.OrderID == "" {
		out.OrderID = session.ClientReferenceID
	}
	if session.PaymentIntent != nil {
		out.PaymentID = session.PaymentIntent.ID
	}
	if session.Customer != nil {
		out.PayerID = session.Customer.ID
	}
	return out, true, nil
}
