package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/VengurlekarMayuresh/CCL/internal/platform/auth"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/httpx"
	"github.com/VengurlekarMayuresh/CCL/internal/services"
)

var defaultStaffRoles = []string{auth.RoleAdmin, auth.RoleStaff}

// OrderHandlers exposes the customer facing order endpoints.
type OrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	staffRoles    []string
	createLimiter rateLimiter
	idempotency   func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderStaffRoles sets the roles allowed to act on other users' orders.
func WithOrderStaffRoles(roles ...string) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if len(roles) > 0 {
			h.staffRoles = append([]string(nil), roles...)
		}
	}
}

// WithOrderCreateRateLimit throttles order creation per user.
func WithOrderCreateRateLimit(perMinute int, clock func() time.Time) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.createLimiter = newPerMinuteRateLimiter(perMinute, clock)
	}
}

// WithOrderIdempotency wraps create and capture with mw.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:      authn,
		orders:     orders,
		staffRoles: defaultStaffRoles,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	idempotent := h.idempotency
	if idempotent == nil {
		idempotent = passThrough
	}

	r.Get("/", h.listOrders)
	r.With(rateLimitByUser(h.createLimiter), idempotent).Post("/", h.createOrder)
	r.With(idempotent).Post("/capture", h.capturePayment)
	r.Get("/{orderID}", h.getOrder)
	r.With(requireRoles(h.staffRoles...)).Put("/{orderID}/status", h.updateStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = identity.UID
	}
	if userID != identity.UID && !identity.HasAnyRole(h.staffRoles...) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "cannot place orders for another user", http.StatusForbidden))
		return
	}

	cmd, err := req.toCreateCommand(userID, identity.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"success":         true,
		"message":         "Order created successfully",
		"order":           buildOrderPayload(result.Order),
		"orderId":         result.Order.ID,
		"paymentRedirect": result.PaymentRedirect,
	})
}

func (h *OrderHandlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(w, r)
	if !ok {
		return
	}

	var req capturePaymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.orders.CapturePayment(ctx, services.CapturePaymentCommand{
		OrderID:      req.OrderID,
		PaymentID:    req.PaymentID,
		PayerID:      req.PayerID,
		ActorID:      identity.UID,
		ActorIsStaff: identity.HasAnyRole(h.staffRoles...),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Order confirmed",
		"order":   buildOrderPayload(result.Order),
		"email":   result.Email,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.UserID != identity.UID && !identity.HasAnyRole(h.staffRoles...) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   buildOrderPayload(order),
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(w, r)
	if !ok {
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		userID = identity.UID
	}
	if userID != identity.UID && !identity.HasAnyRole(h.staffRoles...) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "cannot list another user's orders", http.StatusForbidden))
		return
	}

	orders, err := h.orders.ListUserOrders(ctx, userID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  buildOrderPayloads(orders),
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req updateStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.OrderStatus) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderStatus is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  req.OrderStatus,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Order status is updated successfully!",
		"order":        buildOrderPayload(result.Order),
		"notification": result.Notification,
		"outOfFlow":    result.OutOfFlow,
	})
}

func (h *OrderHandlers) requireService(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// requireRoles rejects identities holding none of roles. It expects the
// authentication middleware to have run.
func requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok || identity == nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if !identity.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "insufficient role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passThrough(next http.Handler) http.Handler { return next }

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentRefunded):
		httpx.WriteError(ctx, w, httpx.NewError("payment_refunded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderAlreadyCaptured):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_captured", "payment for this order was already captured", http.StatusConflict))
	case errors.Is(err, services.ErrOrderCaptureInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("capture_in_progress", "payment capture is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentDeclined):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_confirmed", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrOrderPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "error creating payment with the provider", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order storage temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
