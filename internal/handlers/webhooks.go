package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/VengurlekarMayuresh/CCL/internal/payments"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/httpx"
	"github.com/VengurlekarMayuresh/CCL/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// CheckoutEventParser verifies and decodes provider checkout events.
type CheckoutEventParser interface {
	ParseCheckoutCompleted(payload []byte, signature string) (payments.CheckoutCompleted, bool, error)
}

// PaymentWebhookHandlers turns provider callbacks into captures.
type PaymentWebhookHandlers struct {
	stripe CheckoutEventParser
	orders services.OrderService
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentWebhookHandlers constructs webhook handlers. A nil parser leaves
// the Stripe route unregistered.
func NewPaymentWebhookHandlers(stripe CheckoutEventParser, orders services.OrderService, logger func(context.Context, string, map[string]any)) *PaymentWebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentWebhookHandlers{stripe: stripe, orders: orders, logger: logger}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil || h.stripe == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeCheckout)
}

func (h *PaymentWebhookHandlers) stripeCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	event, ok, err := h.stripe.ParseCheckoutCompleted(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		code := "invalid_payload"
		if errors.Is(err, payments.ErrWebhookSignature) {
			code = "invalid_signature"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, "webhook rejected", http.StatusBadRequest))
		return
	}
	if !ok || !event.Paid || event.OrderID == "" {
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	_, err = h.orders.CapturePayment(ctx, services.CapturePaymentCommand{
		OrderID:   event.OrderID,
		PaymentID: event.PaymentID,
		PayerID:   event.PayerID,
		Settled:   true,
	})
	switch {
	case err == nil, errors.Is(err, services.ErrOrderAlreadyCaptured):
	case errors.Is(err, services.ErrOrderPaymentRefunded):
		h.logger(ctx, "webhooks.stripe.capture.refunded", map[string]any{"eventId": event.EventID, "orderId": event.OrderID, "error": err.Error()})
	case errors.Is(err, services.ErrOrderCaptureInProgress),
		errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrOrderPaymentUnavailable):
		// the provider retries non-2xx deliveries
		h.logger(ctx, "webhooks.stripe.capture.retry.warn", map[string]any{"eventId": event.EventID, "orderId": event.OrderID, "error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("capture_unavailable", "capture temporarily unavailable", http.StatusServiceUnavailable))
		return
	default:
		h.logger(ctx, "webhooks.stripe.capture.failed", map[string]any{"eventId": event.EventID, "orderId": event.OrderID, "error": err.Error()})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
