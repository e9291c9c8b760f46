package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/VengurlekarMayuresh/CCL/internal/notifications"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/auth"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/httpx"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/mail"
	"github.com/VengurlekarMayuresh/CCL/internal/services"
)

// MessageSender delivers an ad-hoc email.
type MessageSender interface {
	SendMessage(ctx context.Context, to string, msg notifications.Message) error
}

type testNotificationRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// AdminOrderHandlers exposes staff order views and the mail test endpoint.
type AdminOrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	mailer     MessageSender
	staffRoles []string
}

// NewAdminOrderHandlers constructs admin handlers. staffRoles defaults to
// admin and staff.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, mailer MessageSender, staffRoles ...string) *AdminOrderHandlers {
	if len(staffRoles) == 0 {
		staffRoles = defaultStaffRoles
	}
	return &AdminOrderHandlers{authn: authn, orders: orders, mailer: mailer, staffRoles: staffRoles}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(h.staffRoles...))
	} else {
		r.Use(requireRoles(h.staffRoles...))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.With(requireRoles(auth.RoleAdmin)).Post("/notifications/test", h.sendTestNotification)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orders, err := h.orders.ListAllOrders(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  buildOrderPayloads(orders),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   buildOrderPayload(order),
	})
}

func (h *AdminOrderHandlers) sendTestNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.mailer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("mail_unavailable", "mail transport not configured", http.StatusServiceUnavailable))
		return
	}

	var req testNotificationRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	to := strings.TrimSpace(req.To)
	subject := strings.TrimSpace(req.Subject)
	if !notifications.ValidAddress(to) || subject == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to and subject are required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.HTML) == "" {
		req.Text = "This is a test email from the order service."
	}

	err := h.mailer.SendMessage(ctx, to, notifications.Message{Subject: subject, Text: req.Text, HTML: req.HTML})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, mail.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		httpx.WriteError(ctx, w, httpx.NewError("mail_send_failed", err.Error(), status))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Test email sent",
	})
}
