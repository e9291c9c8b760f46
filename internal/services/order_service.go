package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/notifications"
	"github.com/VengurlekarMayuresh/CCL/internal/payments"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/lock"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventCaptured      = "order.captured"
	orderEventStatusChanged = "order.status_changed"

	captureLockPrefix     = "order-capture:"
	defaultCaptureLockTTL = 30 * time.Second
	defaultCurrency       = "USD"
	defaultPaymentMethod  = "paypal"

	// totalTolerance is the largest accepted gap, in minor units, between a
	// client supplied total and the catalog total.
	totalTolerance = 1
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderProductNotFound indicates an order line references a missing product.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderInsufficientStock indicates a product cannot cover the ordered quantity.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderAlreadyCaptured rejects a second capture of the same order.
	ErrOrderAlreadyCaptured = errors.New("order: payment already captured")
	// ErrOrderCaptureInProgress indicates another request is capturing the order.
	ErrOrderCaptureInProgress = errors.New("order: capture already in progress")
	// ErrOrderInvalidTransition indicates the order cannot move to the requested status.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent writer updated the order first.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentUnavailable indicates the payment provider could not be reached.
	ErrOrderPaymentUnavailable = errors.New("order: payment provider unavailable")
	// ErrOrderPaymentDeclined indicates the provider did not confirm the payment.
	ErrOrderPaymentDeclined = errors.New("order: payment not confirmed")
	// ErrOrderPaymentRefunded wraps a capture failure after which the collected
	// payment was returned. The order stays unpaid and must not be retried.
	ErrOrderPaymentRefunded = errors.New("order: payment refunded")
	// ErrOrderUnavailable indicates storage or locking is temporarily unavailable.
	ErrOrderUnavailable = errors.New("order: temporarily unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Products  repositories.ProductRepository
	Carts     repositories.CartRepository
	Users     repositories.UserRepository
	Payments  PaymentGateway
	Notifier  StatusNotifier
	Directory EmailDirectory
	Locker    lock.Locker
	LockTTL   time.Duration
	Events    OrderEventPublisher
	Metrics   Metrics
	// StrictTransitions rejects moves outside the lifecycle table instead of
	// applying them with a warning.
	StrictTransitions bool
	// VerifyCapture asks the payment provider to confirm before capturing.
	VerifyCapture bool
	Currency      string
	ReturnURL     string
	CancelURL     string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	users     repositories.UserRepository
	payments  PaymentGateway
	notifier  StatusNotifier
	directory EmailDirectory
	locker    lock.Locker
	lockTTL   time.Duration
	events    OrderEventPublisher
	metrics   Metrics
	inventory *inventoryAdjuster
	carts     *cartInvalidator
	strict    bool
	verify    bool
	currency  string
	returnURL string
	cancelURL string
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker(clock)
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultCaptureLockTTL
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		users:     deps.Users,
		payments:  deps.Payments,
		notifier:  deps.Notifier,
		directory: deps.Directory,
		locker:    locker,
		lockTTL:   lockTTL,
		events:    deps.Events,
		metrics:   deps.Metrics,
		inventory: &inventoryAdjuster{products: deps.Products, logger: logger},
		carts:     &cartInvalidator{carts: deps.Carts},
		strict:    deps.StrictTransitions,
		verify:    deps.VerifyCapture,
		currency:  currency,
		returnURL: deps.ReturnURL,
		cancelURL: deps.CancelURL,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if len(cmd.Items) == 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if err := validateAddress(cmd.Address); err != nil {
		return CreateOrderResult{}, err
	}
	if raw := strings.TrimSpace(cmd.Status); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil || status != domain.OrderStatusPending {
			return CreateOrderResult{}, fmt.Errorf("%w: new orders start as %q", ErrOrderInvalidInput, domain.OrderStatusPending)
		}
	}

	items, err := s.priceItems(ctx, cmd.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}
	total := domain.ComputeTotal(items)
	if total <= 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}
	if cmd.TotalAmount != nil {
		if diff := *cmd.TotalAmount - total; diff > totalTolerance || diff < -totalTolerance {
			return CreateOrderResult{}, fmt.Errorf("%w: total mismatch, expected %s", ErrOrderInvalidInput, domain.FormatMinorUnits(total))
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	method := strings.TrimSpace(cmd.PaymentMethod)
	if method == "" {
		method = defaultPaymentMethod
	}
	userID := strings.TrimSpace(cmd.UserID)

	address := cmd.Address
	address.Email = strings.TrimSpace(address.Email)
	if address.Email == "" && userID != "" {
		address.Email = s.accountEmail(ctx, userID)
	}

	now := s.now()
	order := domain.Order{
		ID:              s.newID(),
		UserID:          userID,
		CartID:          strings.TrimSpace(cmd.CartID),
		Items:           items,
		Address:         address,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   method,
		Currency:        currency,
		TotalAmount:     total,
		Version:         1,
		OrderDate:       now,
		OrderUpdateDate: now,
	}

	pc := payments.PaymentContext{PreferredProvider: cmd.Provider, Currency: currency}
	intent, err := s.payments.CreatePaymentIntent(ctx, pc, payments.IntentRequest{
		OrderID:        order.ID,
		Amount:         total,
		Currency:       currency,
		Items:          paymentLineItems(items, currency),
		ReturnURL:      s.returnURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: order.ID,
		Metadata:       map[string]string{"order_id": order.ID},
	})
	if err != nil {
		s.logger(ctx, "orders.payment_intent.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderPaymentUnavailable, err)
	}
	order.PaymentProvider = intent.Provider
	order.PaymentIntentID = intent.ID

	if err := s.orders.Insert(ctx, order); err != nil {
		if cancelErr := s.payments.CancelIntent(context.WithoutCancel(ctx), payments.PaymentContext{PreferredProvider: intent.Provider}, intent.ID); cancelErr != nil {
			s.logger(ctx, "orders.payment_intent.cancel.failed", map[string]any{"orderId": order.ID, "intentId": intent.ID, "error": cancelErr.Error()})
		}
		return CreateOrderResult{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "orders.created", map[string]any{"orderId": order.ID, "total": total, "provider": intent.Provider})
	s.publishEvent(ctx, orderEvent(orderEventCreated, order, "", cmd.ActorID))

	return CreateOrderResult{Order: order, PaymentRedirect: intent.ApprovalURL}, nil
}

func (s *orderService) CapturePayment(ctx context.Context, cmd CapturePaymentCommand) (CaptureResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CaptureResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	release, err := s.locker.Acquire(ctx, captureLockPrefix+orderID, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			s.recordCapture("in_progress")
			return CaptureResult{}, ErrOrderCaptureInProgress
		}
		return CaptureResult{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx, "orders.capture.unlock.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		}
	}()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CaptureResult{}, s.mapRepositoryError(err)
	}
	if cmd.ActorID != "" && !cmd.ActorIsStaff && order.UserID != "" && order.UserID != cmd.ActorID {
		return CaptureResult{}, ErrOrderNotFound
	}
	if order.IsPaid() {
		s.recordCapture("duplicate")
		return CaptureResult{}, ErrOrderAlreadyCaptured
	}

	paymentID := strings.TrimSpace(cmd.PaymentID)
	payerID := strings.TrimSpace(cmd.PayerID)

	if order.Status.IsTerminal() {
		err := fmt.Errorf("%w: order is %s", ErrOrderInvalidTransition, order.Status)
		if !cmd.Settled {
			return CaptureResult{}, err
		}
		if rerr := s.refund(context.WithoutCancel(ctx), order, paymentID); rerr != nil {
			s.logger(ctx, "orders.capture.refund.failed", map[string]any{"orderId": order.ID, "error": rerr.Error()})
			return CaptureResult{}, err
		}
		return CaptureResult{}, fmt.Errorf("%w: %w", ErrOrderPaymentRefunded, err)
	}

	var (
		refunded bool
		captured domain.Order
		reserved []domain.OrderLineItem
		snapshot *domain.Cart
	)
	var steps []sagaStep
	if cmd.Settled || s.verify {
		steps = append(steps, sagaStep{
			name: "collect-payment",
			execute: func(ctx context.Context) error {
				if cmd.Settled {
					return nil
				}
				// Fail on stock before money moves.
				if err := s.inventory.precheck(ctx, order.Items); err != nil {
					return err
				}
				details, err := s.confirmPayment(ctx, order, paymentID, payerID)
				if err != nil {
					return err
				}
				if details.PaymentID != "" {
					paymentID = details.PaymentID
				}
				if details.PayerID != "" && payerID == "" {
					payerID = details.PayerID
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				if err := s.refund(ctx, order, paymentID); err != nil {
					return err
				}
				refunded = true
				return nil
			},
		})
	}
	steps = append(steps, []sagaStep{
		{
			name: "reserve-stock",
			execute: func(ctx context.Context) error {
				applied, err := s.inventory.reserve(ctx, order.Items)
				reserved = applied
				return err
			},
			compensate: func(ctx context.Context) error {
				return s.inventory.release(ctx, reserved)
			},
		},
		{
			name: "delete-cart",
			execute: func(ctx context.Context) error {
				cart, err := s.carts.invalidate(ctx, order.CartID)
				snapshot = cart
				return err
			},
			compensate: func(ctx context.Context) error {
				return s.carts.restore(ctx, snapshot)
			},
		},
		{
			name: "persist-order",
			execute: func(ctx context.Context) error {
				captured = capturedOrder(order, paymentID, payerID, s.now())
				return s.mapRepositoryError(s.orders.UpdateIfVersion(ctx, captured, order.Version))
			},
		},
	}...)
	if err := runSaga(ctx, steps, s.sagaHooks(order.ID)); err != nil {
		if errors.Is(err, ErrOrderPaymentDeclined) || errors.Is(err, ErrOrderPaymentUnavailable) {
			s.recordCapture("declined")
		} else {
			s.recordCapture("failed")
		}
		s.logger(ctx, "orders.capture.failed", map[string]any{"orderId": order.ID, "error": err.Error(), "refunded": refunded})
		if refunded {
			return CaptureResult{}, fmt.Errorf("%w: %w", ErrOrderPaymentRefunded, err)
		}
		return CaptureResult{}, err
	}
	paymentID = captured.PaymentID
	s.recordCapture("captured")
	s.logger(ctx, "orders.captured", map[string]any{"orderId": order.ID, "paymentId": paymentID})

	email := s.notify(ctx, captured, string(captured.Status))
	s.publishEvent(ctx, orderEvent(orderEventCaptured, captured, string(order.Status), cmd.ActorID))

	return CaptureResult{Order: captured, Email: email}, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (StatusUpdateResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return StatusUpdateResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, err := domain.ParseOrderStatus(cmd.Status)
	if err != nil {
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return StatusUpdateResult{}, s.mapRepositoryError(err)
	}

	previous := order.Status
	inFlow := domain.CanTransition(previous, target)
	if !inFlow {
		if s.strict {
			return StatusUpdateResult{}, fmt.Errorf("%w: %s cannot move to %s", ErrOrderInvalidTransition, previous, target)
		}
		s.logger(ctx, "orders.status.out_of_flow.warn", map[string]any{"orderId": order.ID, "from": string(previous), "to": string(target)})
	}

	updated := order
	updated.Status = target
	updated.OrderUpdateDate = s.now()
	updated.Version = order.Version + 1
	if err := s.orders.UpdateIfVersion(ctx, updated, order.Version); err != nil {
		return StatusUpdateResult{}, s.mapRepositoryError(err)
	}
	if s.metrics != nil {
		s.metrics.StatusTransition(string(target), inFlow)
	}

	outcome := s.notify(ctx, updated, string(target))
	s.publishEvent(ctx, orderEvent(orderEventStatusChanged, updated, string(previous), cmd.ActorID))

	return StatusUpdateResult{Order: updated, Notification: outcome, OutOfFlow: !inFlow}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) ListAllOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) priceItems(ctx context.Context, requested []CreateOrderItem) ([]domain.OrderLineItem, error) {
	items := make([]domain.OrderLineItem, 0, len(requested))
	for i, item := range requested {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item %d: product id is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %s: quantity must be a positive integer", ErrOrderInvalidInput, productID)
		}
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
			}
			return nil, s.mapRepositoryError(err)
		}
		line := domain.OrderLineItem{
			ProductID: productID,
			Title:     product.Title,
			Image:     product.Image,
			Price:     product.Price,
			Quantity:  item.Quantity,
		}
		if product.SalePrice != nil && *product.SalePrice > 0 {
			sale := *product.SalePrice
			line.SalePrice = &sale
		}
		items = append(items, line)
	}
	return items, nil
}

func (s *orderService) confirmPayment(ctx context.Context, order domain.Order, paymentID, payerID string) (payments.PaymentDetails, error) {
	intentID := order.PaymentIntentID
	if intentID == "" {
		intentID = paymentID
	}
	details, err := s.payments.ConfirmPayment(ctx, payments.PaymentContext{PreferredProvider: order.PaymentProvider, Currency: order.Currency}, payments.ConfirmRequest{
		IntentID:  intentID,
		PaymentID: paymentID,
		PayerID:   payerID,
		OrderID:   order.ID,
	})
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			return payments.PaymentDetails{}, fmt.Errorf("%w: %v", ErrOrderPaymentDeclined, err)
		}
		return payments.PaymentDetails{}, fmt.Errorf("%w: %v", ErrOrderPaymentUnavailable, err)
	}
	if details.Status != payments.StatusSucceeded {
		return payments.PaymentDetails{}, fmt.Errorf("%w: provider reported %s", ErrOrderPaymentDeclined, details.Status)
	}
	return details, nil
}

// capturedOrder marks order paid. A pending order moves to confirmed; an
// order staff already advanced keeps its status.
func capturedOrder(order domain.Order, paymentID, payerID string, now time.Time) domain.Order {
	if paymentID == "" {
		paymentID = order.PaymentIntentID
	}
	captured := order
	captured.PaymentStatus = domain.PaymentStatusPaid
	if order.Status == domain.OrderStatusPending {
		captured.Status = domain.OrderStatusConfirmed
	}
	captured.PaymentID = paymentID
	captured.PayerID = payerID
	captured.CapturedAt = &now
	captured.OrderUpdateDate = now
	captured.Version = order.Version + 1
	return captured
}

// refund returns a collected payment after a later capture step failed.
func (s *orderService) refund(ctx context.Context, order domain.Order, paymentID string) error {
	err := s.payments.RefundPayment(ctx, payments.PaymentContext{PreferredProvider: order.PaymentProvider, Currency: order.Currency}, payments.RefundRequest{
		IntentID:       order.PaymentIntentID,
		PaymentID:      paymentID,
		OrderID:        order.ID,
		IdempotencyKey: "refund-" + order.ID,
	})
	if err != nil {
		return fmt.Errorf("refund payment: %w", err)
	}
	s.logger(ctx, "orders.capture.refunded", map[string]any{"orderId": order.ID, "paymentId": paymentID})
	return nil
}

// notify resolves the recipient and emails the status. It never fails the caller.
func (s *orderService) notify(ctx context.Context, order domain.Order, status string) NotificationOutcome {
	if s.notifier == nil {
		return NotificationOutcome{}
	}
	to := s.recipient(ctx, order)
	if to == "" {
		s.logger(ctx, "orders.notification.skipped", map[string]any{"orderId": order.ID, "reason": "no recipient"})
		return NotificationOutcome{}
	}
	outcome := s.notifier.SendOrderStatus(ctx, to, order, status)
	return NotificationOutcome{Attempted: outcome.Attempted, Sent: outcome.Sent}
}

// recipient prefers the account email and falls back to the address captured
// on the order.
func (s *orderService) recipient(ctx context.Context, order domain.Order) string {
	if order.UserID != "" {
		if email := s.accountEmail(ctx, order.UserID); email != "" {
			return email
		}
	}
	if notifications.ValidAddress(order.Address.Email) {
		return strings.TrimSpace(order.Address.Email)
	}
	return ""
}

func (s *orderService) accountEmail(ctx context.Context, userID string) string {
	if s.users != nil {
		user, err := s.users.FindByID(ctx, userID)
		switch {
		case err == nil && notifications.ValidAddress(user.Email):
			return strings.TrimSpace(user.Email)
		case err != nil && !isNotFound(err):
			s.logger(ctx, "orders.user_lookup.failed", map[string]any{"userId": userID, "error": err.Error()})
		}
	}
	if s.directory != nil {
		email, err := s.directory.LookupEmail(ctx, userID)
		if err != nil {
			s.logger(ctx, "orders.user_lookup.failed", map[string]any{"userId": userID, "error": err.Error(), "source": "directory"})
			return ""
		}
		if notifications.ValidAddress(email) {
			return strings.TrimSpace(email)
		}
	}
	return ""
}

func (s *orderService) sagaHooks(orderID string) sagaHooks {
	return sagaHooks{
		compensated: func(ctx context.Context, step string, err error) {
			if s.metrics != nil {
				s.metrics.Compensation(step, err == nil)
			}
			fields := map[string]any{"orderId": orderID, "step": step}
			if err != nil {
				fields["error"] = err.Error()
				s.logger(ctx, "orders.capture.compensation.failed", fields)
				return
			}
			s.logger(ctx, "orders.capture.compensated", fields)
		},
	}
}

func (s *orderService) recordCapture(outcome string) {
	if s.metrics != nil {
		s.metrics.CaptureOutcome(outcome)
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func orderEvent(kind string, order domain.Order, previous string, actorID string) OrderEvent {
	return OrderEvent{
		Type:           kind,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: previous,
		CurrentStatus:  string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		ActorID:        actorID,
		OccurredAt:     order.OrderUpdateDate,
	}
}

func paymentLineItems(items []domain.OrderLineItem, currency string) []payments.LineItem {
	out := make([]payments.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, payments.LineItem{
			Name:       item.Title,
			SKU:        item.ProductID,
			UnitAmount: item.EffectivePrice(),
			Currency:   currency,
			Quantity:   int64(item.Quantity),
		})
	}
	return out
}

func validateAddress(addr domain.OrderAddress) error {
	required := []struct {
		field string
		value string
	}{
		{"address", addr.Address},
		{"city", addr.City},
		{"pincode", addr.Pincode},
		{"phone", addr.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: addressInfo.%s is required", ErrOrderInvalidInput, r.field)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
