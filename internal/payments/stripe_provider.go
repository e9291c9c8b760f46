package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// MetadataOrderID is the metadata key linking a Stripe session to an order.
const MetadataOrderID = "order_id"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeProviderConfig configures the Stripe Checkout adapter.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Clock     func() time.Time
	Sessions  stripeSessionAPI
	Refunds   stripeRefundAPI
}

// StripeProvider opens Stripe Checkout sessions. The session id doubles as
// the intent id and completion is read from the session's payment status.
type StripeProvider struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
	account  string
	clock    func() time.Time
	logger   Logger
}

// NewStripeProvider builds a provider from cfg.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	sessions, refunds := cfg.Sessions, cfg.Refunds
	apiKey := strings.TrimSpace(cfg.APIKey)
	if sessions == nil && apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	if apiKey != "" && (sessions == nil || refunds == nil) {
		api := client.New(apiKey, cfg.Backends)
		if sessions == nil {
			sessions = api.CheckoutSessions
		}
		if refunds == nil {
			refunds = api.Refunds
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &StripeProvider{
		sessions: sessions,
		refunds:  refunds,
		account:  strings.TrimSpace(cfg.AccountID),
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (p *StripeProvider) applyParams(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
}

// CreateIntent opens a Checkout session in payment mode.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	currency := strings.ToLower(defaultString(req.Currency, "usd"))
	metadata := map[string]string{MetadataOrderID: req.OrderID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(appendQuery(req.ReturnURL, "session_id={CHECKOUT_SESSION_ID}")),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata},
	}
	p.applyParams(ctx, &params.Params, strings.TrimSpace(req.IdempotencyKey))

	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, currency))),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		params.LineItems = append(params.LineItems, line)
	}
	if len(params.LineItems) == 0 {
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String("Order " + req.OrderID)},
			},
		}}
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":   req.OrderID,
		"sessionId": session.ID,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Intent{
		ID:          session.ID,
		Provider:    "stripe",
		ApprovalURL: session.URL,
		Status:      StatusPending,
		ExpiresAt:   expiresAt,
	}, nil
}

// Confirm reads the session and reports whether it has been paid. Checkout
// captures automatically so no further call is needed.
func (p *StripeProvider) Confirm(ctx context.Context, req ConfirmRequest) (PaymentDetails, error) {
	details, err := p.Lookup(ctx, defaultString(req.IntentID, req.PaymentID))
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.PayerID == "" {
		details.PayerID = req.PayerID
	}
	return details, nil
}

// Cancel expires an open session.
func (p *StripeProvider) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	p.applyParams(ctx, &params.Params, "")
	if _, err := p.sessions.Expire(intentID, params); err != nil {
		return fmt.Errorf("stripe: expire checkout session: %w", err)
	}
	p.logger(ctx, "payments.stripe.session.expired", map[string]any{"sessionId": intentID})
	return nil
}

// Refund refunds the payment intent behind a paid session.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) error {
	paymentIntent := strings.TrimSpace(req.PaymentID)
	if !strings.HasPrefix(paymentIntent, "pi_") {
		details, err := p.Lookup(ctx, defaultString(req.IntentID, paymentIntent))
		if err != nil {
			return err
		}
		if details.PaymentID == "" {
			return fmt.Errorf("stripe: refund: session %s has no payment intent", details.IntentID)
		}
		paymentIntent = details.PaymentID
	}

	if p.refunds == nil {
		return errors.New("stripe: refunds are not configured")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntent)}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	if req.OrderID != "" {
		params.AddMetadata(MetadataOrderID, req.OrderID)
	}
	p.applyParams(ctx, &params.Params, strings.TrimSpace(req.IdempotencyKey))
	refund, err := p.refunds.New(params)
	if err != nil {
		return fmt.Errorf("stripe: create refund: %w", err)
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": paymentIntent,
		"refundId":      refund.ID,
		"status":        string(refund.Status),
	})
	return nil
}

// Lookup retrieves the session with its payment intent expanded.
func (p *StripeProvider) Lookup(ctx context.Context, intentID string) (PaymentDetails, error) {
	if strings.TrimSpace(intentID) == "" {
		return PaymentDetails{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	p.applyParams(ctx, &params.Params, "")
	params.AddExpand("payment_intent")
	session, err := p.sessions.Get(intentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return PaymentDetails{}, ErrIntentNotFound
		}
		return PaymentDetails{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return stripeSessionDetails(session), nil
}

func stripeSessionDetails(session *stripe.CheckoutSession) PaymentDetails {
	details := PaymentDetails{
		Provider: "stripe",
		IntentID: session.ID,
		Status:   StatusPending,
		Amount:   session.AmountTotal,
		Currency: strings.ToUpper(string(session.Currency)),
	}
	if session.PaymentIntent != nil {
		details.PaymentID = session.PaymentIntent.ID
	}
	if session.Customer != nil {
		details.PayerID = session.Customer.ID
	}
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		details.Status = StatusSucceeded
		details.Captured = true
		if session.PaymentIntent != nil && session.PaymentIntent.Created != 0 {
			at := time.Unix(session.PaymentIntent.Created, 0).UTC()
			details.CapturedAt = &at
		}
	case session.Status == stripe.CheckoutSessionStatusExpired:
		details.Status = StatusCancelled
	}
	return details
}

func appendQuery(rawURL, query string) string {
	if rawURL == "" {
		return ""
	}
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}
