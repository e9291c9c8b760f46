package services

import (
	"context"
	"time"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/notifications"
	"github.com/VengurlekarMayuresh/CCL/internal/payments"
)

// OrderService owns order creation, payment capture and status changes.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	CapturePayment(ctx context.Context, cmd CapturePaymentCommand) (CaptureResult, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (StatusUpdateResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error)
	ListAllOrders(ctx context.Context) ([]domain.Order, error)
}

// PaymentGateway is the subset of payments.Manager used by orders.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, pc payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	ConfirmPayment(ctx context.Context, pc payments.PaymentContext, req payments.ConfirmRequest) (payments.PaymentDetails, error)
	CancelIntent(ctx context.Context, pc payments.PaymentContext, intentID string) error
	RefundPayment(ctx context.Context, pc payments.PaymentContext, req payments.RefundRequest) error
}

// StatusNotifier emails customers about order status changes.
type StatusNotifier interface {
	SendOrderStatus(ctx context.Context, to string, order domain.Order, status string) notifications.Outcome
}

// EmailDirectory resolves an account email outside the user collection, for
// example from the identity provider.
type EmailDirectory interface {
	LookupEmail(ctx context.Context, uid string) (string, error)
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// Metrics records workflow outcomes.
type Metrics interface {
	CaptureOutcome(outcome string)
	Compensation(step string, ok bool)
	StatusTransition(status string, inFlow bool)
}

// OrderEvent is the payload published for order lifecycle changes.
type OrderEvent struct {
	Type           string            `json:"type"`
	OrderID        string            `json:"orderId"`
	UserID         string            `json:"userId,omitempty"`
	PreviousStatus string            `json:"previousStatus,omitempty"`
	CurrentStatus  string            `json:"currentStatus"`
	PaymentStatus  string            `json:"paymentStatus"`
	TotalAmount    int64             `json:"totalAmount"`
	Currency       string            `json:"currency"`
	ActorID        string            `json:"actorId,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CreateOrderItem is one requested cart line. Prices are taken from the
// catalog, never from the caller.
type CreateOrderItem struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand places a pending order and opens a payment.
type CreateOrderCommand struct {
	UserID        string
	CartID        string
	Items         []CreateOrderItem
	Address       domain.OrderAddress
	TotalAmount   *int64
	Status        string
	PaymentMethod string
	Provider      string
	Currency      string
	ActorID       string
}

// CreateOrderResult carries the stored order and where to send the payer.
type CreateOrderResult struct {
	Order           domain.Order
	PaymentRedirect string
}

// CapturePaymentCommand marks an approved payment as captured.
type CapturePaymentCommand struct {
	OrderID   string
	PaymentID string
	PayerID   string
	// ActorID limits capture to the order owner unless ActorIsStaff is set.
	// Empty means a trusted caller such as a provider webhook.
	ActorID      string
	ActorIsStaff bool
	// Settled reports that the provider already collected the funds, as a
	// checkout-completed webhook does. A failed capture then refunds them.
	Settled bool
}

// NotificationOutcome is the caller-facing view of an email attempt.
type NotificationOutcome struct {
	Attempted bool `json:"attempted"`
	Sent      bool `json:"sent"`
}

// CaptureResult is returned by a successful capture.
type CaptureResult struct {
	Order domain.Order
	Email NotificationOutcome
}

// UpdateOrderStatusCommand moves an order to a new status.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

// StatusUpdateResult reports the stored order and whether the move followed
// the normal lifecycle.
type StatusUpdateResult struct {
	Order        domain.Order
	Notification NotificationOutcome
	OutOfFlow    bool
}
