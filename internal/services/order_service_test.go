package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/notifications"
	"github.com/VengurlekarMayuresh/CCL/internal/payments"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/lock"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

type testRepoError struct {
	notFound bool
	conflict bool
}

func (e testRepoError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	}
	return "unavailable"
}
func (e testRepoError) IsNotFound() bool    { return e.notFound }
func (e testRepoError) IsConflict() bool    { return e.conflict }
func (e testRepoError) IsUnavailable() bool { return !e.notFound && !e.conflict }

type memoryOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	insertFn func(domain.Order) error
	updateFn func(domain.Order, int64) error
	updates  int
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: map[string]domain.Order{}}
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if r.insertFn != nil {
		if err := r.insertFn(order); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, testRepoError{notFound: true}
	}
	return order, nil
}

func (r *memoryOrderRepo) UpdateIfVersion(_ context.Context, order domain.Order, expected int64) error {
	if r.updateFn != nil {
		if err := r.updateFn(order, expected); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[order.ID]
	if !ok {
		return testRepoError{notFound: true}
	}
	if current.Version != expected {
		return testRepoError{conflict: true}
	}
	r.orders[order.ID] = order
	r.updates++
	return nil
}

func (r *memoryOrderRepo) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memoryOrderRepo) ListAll(_ context.Context) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, nil
}

type memoryProductRepo struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func (r *memoryProductRepo) FindByID(_ context.Context, id string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, testRepoError{notFound: true}
	}
	return p, nil
}

func (r *memoryProductRepo) DecrementStock(_ context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return &repositories.StockError{Code: repositories.StockErrorNotFound, ProductID: id}
	}
	if p.TotalStock < qty {
		return &repositories.StockError{Code: repositories.StockErrorInsufficient, ProductID: id, Available: p.TotalStock, Requested: qty}
	}
	p.TotalStock -= qty
	r.products[id] = p
	return nil
}

func (r *memoryProductRepo) IncrementStock(_ context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.products[id]
	p.TotalStock += qty
	r.products[id] = p
	return nil
}

func (r *memoryProductRepo) stock(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].TotalStock
}

type memoryCartRepo struct {
	carts map[string]domain.Cart
}

func (r *memoryCartRepo) FindByID(_ context.Context, id string) (domain.Cart, error) {
	c, ok := r.carts[id]
	if !ok {
		return domain.Cart{}, testRepoError{notFound: true}
	}
	return c, nil
}

func (r *memoryCartRepo) Delete(_ context.Context, id string) error {
	delete(r.carts, id)
	return nil
}

func (r *memoryCartRepo) Restore(_ context.Context, cart domain.Cart) error {
	r.carts[cart.ID] = cart
	return nil
}

type stubUserRepo struct {
	users map[string]domain.User
}

func (r *stubUserRepo) FindByID(_ context.Context, id string) (domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return domain.User{}, testRepoError{notFound: true}
	}
	return u, nil
}

type stubGateway struct {
	createFn  func(payments.PaymentContext, payments.IntentRequest) (payments.Intent, error)
	confirmFn func(payments.ConfirmRequest) (payments.PaymentDetails, error)
	requests  []payments.IntentRequest
	cancelled []string
	refunds   []payments.RefundRequest
	refundErr error
}

func (g *stubGateway) CreatePaymentIntent(_ context.Context, pc payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	g.requests = append(g.requests, req)
	if g.createFn != nil {
		return g.createFn(pc, req)
	}
	return payments.Intent{ID: "PAYID-" + req.OrderID, Provider: "mock", ApprovalURL: "https://pay.test/approve?id=" + req.OrderID}, nil
}

func (g *stubGateway) ConfirmPayment(_ context.Context, _ payments.PaymentContext, req payments.ConfirmRequest) (payments.PaymentDetails, error) {
	if g.confirmFn != nil {
		return g.confirmFn(req)
	}
	return payments.PaymentDetails{Status: payments.StatusSucceeded, PaymentID: req.PaymentID}, nil
}

func (g *stubGateway) CancelIntent(_ context.Context, _ payments.PaymentContext, intentID string) error {
	g.cancelled = append(g.cancelled, intentID)
	return nil
}

func (g *stubGateway) RefundPayment(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) error {
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return nil
}

type sentNotification struct {
	to     string
	order  domain.Order
	status string
}

type stubNotifier struct {
	sent []sentNotification
	fail bool
}

func (n *stubNotifier) SendOrderStatus(_ context.Context, to string, order domain.Order, status string) notifications.Outcome {
	n.sent = append(n.sent, sentNotification{to: to, order: order, status: status})
	if n.fail {
		return notifications.Outcome{Attempted: true, Err: errors.New("smtp down")}
	}
	return notifications.Outcome{Attempted: true, Sent: true}
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type recordingMetrics struct {
	captures      []string
	compensations []string
	transitions   []string
}

func (m *recordingMetrics) CaptureOutcome(outcome string) { m.captures = append(m.captures, outcome) }
func (m *recordingMetrics) Compensation(step string, ok bool) {
	if ok {
		m.compensations = append(m.compensations, step)
	}
}
func (m *recordingMetrics) StatusTransition(status string, inFlow bool) {
	if !inFlow {
		status += ":out_of_flow"
	}
	m.transitions = append(m.transitions, status)
}

type orderFixture struct {
	orders   *memoryOrderRepo
	products *memoryProductRepo
	carts    *memoryCartRepo
	users    *stubUserRepo
	gateway  *stubGateway
	notifier *stubNotifier
	events   *captureOrderEvents
	metrics  *recordingMetrics
	locker   *lock.MemoryLocker
	now      time.Time
}

func newOrderFixture() *orderFixture {
	sale := int64(500)
	return &orderFixture{
		orders: newMemoryOrderRepo(),
		products: &memoryProductRepo{products: map[string]domain.Product{
			"p1": {ID: "p1", Title: "Mug", Price: 1000, TotalStock: 5},
			"p2": {ID: "p2", Title: "Poster", Price: 800, SalePrice: &sale, TotalStock: 3},
		}},
		carts:    &memoryCartRepo{carts: map[string]domain.Cart{"cart-1": {ID: "cart-1", UserID: "u1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 2}}}}},
		users:    &stubUserRepo{users: map[string]domain.User{"u1": {ID: "u1", Email: "buyer@shop.test"}}},
		gateway:  &stubGateway{},
		notifier: &stubNotifier{},
		events:   &captureOrderEvents{},
		metrics:  &recordingMetrics{},
		locker:   lock.NewMemoryLocker(nil),
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *orderFixture) service(t *testing.T, mutate ...func(*OrderServiceDeps)) OrderService {
	t.Helper()
	deps := OrderServiceDeps{
		Orders:      f.orders,
		Products:    f.products,
		Carts:       f.carts,
		Users:       f.users,
		Payments:    f.gateway,
		Notifier:    f.notifier,
		Locker:      f.locker,
		Events:      f.events,
		Metrics:     f.metrics,
		ReturnURL:   "https://shop.test/shop/paypal-return",
		CancelURL:   "https://shop.test/shop/paypal-cancel",
		Clock:       func() time.Time { return f.now },
		IDGenerator: func() string { return "ord-1" },
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

// seedPending stores a pending order of two Mugs and one Poster on sale, $25.00 in total.
func (f *orderFixture) seedPending(userID string, email string) domain.Order {
	sale := int64(500)
	order := domain.Order{
		ID:     "ord-1",
		UserID: userID,
		CartID: "cart-1",
		Items: []domain.OrderLineItem{
			{ProductID: "p1", Title: "Mug", Price: 1000, Quantity: 2},
			{ProductID: "p2", Title: "Poster", Price: 800, SalePrice: &sale, Quantity: 1},
		},
		Address:         domain.OrderAddress{Address: "1 Main St", City: "Pune", Pincode: "411001", Phone: "555", Email: email},
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentProvider: "mock",
		PaymentIntentID: "PAYID-ord-1",
		Currency:        "USD",
		TotalAmount:     2500,
		Version:         1,
		OrderDate:       f.now,
		OrderUpdateDate: f.now,
	}
	f.orders.orders[order.ID] = order
	return order
}

func validCreateCommand() CreateOrderCommand {
	total := int64(2500)
	return CreateOrderCommand{
		UserID:      "u1",
		CartID:      "cart-1",
		Items:       []CreateOrderItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		Address:     domain.OrderAddress{Address: "1 Main St", City: "Pune", Pincode: "411001", Phone: "555"},
		TotalAmount: &total,
		ActorID:     "u1",
	}
}

func TestCreateOrderRepricesAndOpensPayment(t *testing.T) {
	f := newOrderFixture()
	svc := f.service(t)

	result, err := svc.CreateOrder(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	order := result.Order
	if order.TotalAmount != 2500 {
		t.Fatalf("expected total 2500, got %d", order.TotalAmount)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending order, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.Items[1].Title != "Poster" || order.Items[1].EffectivePrice() != 500 {
		t.Fatalf("expected catalog snapshot on lines, got %+v", order.Items[1])
	}
	if order.Address.Email != "buyer@shop.test" {
		t.Fatalf("expected account email fallback, got %q", order.Address.Email)
	}
	if order.PaymentIntentID != "PAYID-ord-1" || order.PaymentProvider != "mock" {
		t.Fatalf("expected intent recorded on order, got %q/%q", order.PaymentProvider, order.PaymentIntentID)
	}
	if result.PaymentRedirect != "https://pay.test/approve?id=ord-1" {
		t.Fatalf("unexpected redirect %q", result.PaymentRedirect)
	}

	if len(f.gateway.requests) != 1 {
		t.Fatalf("expected one intent request, got %d", len(f.gateway.requests))
	}
	req := f.gateway.requests[0]
	if req.Amount != 2500 || req.Currency != "USD" || len(req.Items) != 2 {
		t.Fatalf("unexpected intent request %+v", req)
	}
	if req.Items[0].SKU != "p1" || req.Items[0].UnitAmount != 1000 || req.Items[0].Quantity != 2 {
		t.Fatalf("unexpected first line %+v", req.Items[0])
	}
	if req.ReturnURL != "https://shop.test/shop/paypal-return" {
		t.Fatalf("unexpected return url %q", req.ReturnURL)
	}

	if _, ok := f.orders.orders["ord-1"]; !ok {
		t.Fatalf("expected order persisted")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != orderEventCreated {
		t.Fatalf("expected order.created event, got %+v", f.events.events)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateOrderCommand)
		want   error
	}{
		{"no items", func(c *CreateOrderCommand) { c.Items = nil }, ErrOrderInvalidInput},
		{"zero quantity", func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 }, ErrOrderInvalidInput},
		{"missing city", func(c *CreateOrderCommand) { c.Address.City = " " }, ErrOrderInvalidInput},
		{"total mismatch", func(c *CreateOrderCommand) { bad := int64(2400); c.TotalAmount = &bad }, ErrOrderInvalidInput},
		{"non pending status", func(c *CreateOrderCommand) { c.Status = "shipped" }, ErrOrderInvalidInput},
		{"unknown product", func(c *CreateOrderCommand) { c.Items[1].ProductID = "ghost" }, ErrOrderProductNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderFixture()
			cmd := validCreateCommand()
			tc.mutate(&cmd)
			_, err := f.service(t).CreateOrder(context.Background(), cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.gateway.requests) != 0 || len(f.orders.orders) != 0 {
				t.Fatalf("expected no side effects, got %d intents and %d orders", len(f.gateway.requests), len(f.orders.orders))
			}
		})
	}
}

func TestCreateOrderAcceptsOneCentRounding(t *testing.T) {
	f := newOrderFixture()
	cmd := validCreateCommand()
	near := int64(2501)
	cmd.TotalAmount = &near
	result, err := f.service(t).CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if result.Order.TotalAmount != 2500 {
		t.Fatalf("expected server total to win, got %d", result.Order.TotalAmount)
	}
}

func TestCreateOrderPaymentFailurePersistsNothing(t *testing.T) {
	f := newOrderFixture()
	f.gateway.createFn = func(payments.PaymentContext, payments.IntentRequest) (payments.Intent, error) {
		return payments.Intent{}, errors.New("paypal: 500")
	}
	_, err := f.service(t).CreateOrder(context.Background(), validCreateCommand())
	if !errors.Is(err, ErrOrderPaymentUnavailable) {
		t.Fatalf("expected ErrOrderPaymentUnavailable, got %v", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("expected no stored order")
	}
}

func TestCreateOrderCancelsIntentWhenInsertFails(t *testing.T) {
	f := newOrderFixture()
	f.orders.insertFn = func(domain.Order) error { return testRepoError{} }
	_, err := f.service(t).CreateOrder(context.Background(), validCreateCommand())
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected ErrOrderUnavailable, got %v", err)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != "PAYID-ord-1" {
		t.Fatalf("expected intent cancelled, got %v", f.gateway.cancelled)
	}
}

func TestCapturePaymentDecrementsStockDeletesCartAndNotifies(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	svc := f.service(t)

	result, err := svc.CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", PaymentID: "PAYID-ord-1", PayerID: "payer-9", ActorID: "u1"})
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if got := f.products.stock("p1"); got != 3 {
		t.Fatalf("expected p1 stock 3, got %d", got)
	}
	if got := f.products.stock("p2"); got != 2 {
		t.Fatalf("expected p2 stock 2, got %d", got)
	}
	if _, ok := f.carts.carts["cart-1"]; ok {
		t.Fatalf("expected cart deleted")
	}

	stored := f.orders.orders["ord-1"]
	if !stored.IsPaid() || stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected paid confirmed order, got %s/%s", stored.PaymentStatus, stored.Status)
	}
	if stored.PayerID != "payer-9" || stored.Version != 2 || stored.CapturedAt == nil {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if stored.TotalAmount != 2500 {
		t.Fatalf("expected total unchanged, got %d", stored.TotalAmount)
	}

	if !result.Email.Attempted || !result.Email.Sent {
		t.Fatalf("expected email sent, got %+v", result.Email)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].to != "buyer@shop.test" || f.notifier.sent[0].status != "confirmed" {
		t.Fatalf("unexpected notification %+v", f.notifier.sent)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != orderEventCaptured || f.events.events[0].PreviousStatus != "pending" {
		t.Fatalf("expected order.captured event, got %+v", f.events.events)
	}
	if len(f.metrics.captures) != 1 || f.metrics.captures[0] != "captured" {
		t.Fatalf("expected captured metric, got %v", f.metrics.captures)
	}
}

func TestCapturePaymentMissingProductLeavesStateUnchanged(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	delete(f.products.products, "p2")

	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", PaymentID: "PAYID-ord-1"})
	if !errors.Is(err, ErrOrderProductNotFound) {
		t.Fatalf("expected ErrOrderProductNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Poster") {
		t.Fatalf("expected error to name the item, got %v", err)
	}
	if got := f.products.stock("p1"); got != 5 {
		t.Fatalf("expected p1 stock untouched, got %d", got)
	}
	if _, ok := f.carts.carts["cart-1"]; !ok {
		t.Fatalf("expected cart kept")
	}
	if stored := f.orders.orders["ord-1"]; stored.IsPaid() || stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected order unchanged, got %s/%s", stored.PaymentStatus, stored.Status)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("expected no notification")
	}
}

func TestCapturePaymentInsufficientStock(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	p := f.products.products["p1"]
	p.TotalStock = 1
	f.products.products["p1"] = p

	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1"})
	if !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected ErrOrderInsufficientStock, got %v", err)
	}
	if got := f.products.stock("p2"); got != 3 {
		t.Fatalf("expected p2 untouched, got %d", got)
	}
}

func TestCapturePaymentRejectsSecondCapture(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	svc := f.service(t)
	ctx := context.Background()

	if _, err := svc.CapturePayment(ctx, CapturePaymentCommand{OrderID: "ord-1"}); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	_, err := svc.CapturePayment(ctx, CapturePaymentCommand{OrderID: "ord-1"})
	if !errors.Is(err, ErrOrderAlreadyCaptured) {
		t.Fatalf("expected ErrOrderAlreadyCaptured, got %v", err)
	}
	if got := f.products.stock("p1"); got != 3 {
		t.Fatalf("expected stock decremented once, got %d", got)
	}
	if f.orders.updates != 1 {
		t.Fatalf("expected a single persisted update, got %d", f.orders.updates)
	}
}

func TestCapturePaymentWithoutRecipient(t *testing.T) {
	f := newOrderFixture()
	f.users.users = map[string]domain.User{"u1": {ID: "u1"}}
	f.seedPending("u1", "not-an-email")

	result, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if result.Email.Attempted || result.Email.Sent {
		t.Fatalf("expected no attempt, got %+v", result.Email)
	}
	if !f.orders.orders["ord-1"].IsPaid() {
		t.Fatalf("expected capture to succeed")
	}
}

func TestCapturePaymentFallsBackToAddressEmail(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("", "guest@shop.test")

	result, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if !result.Email.Sent || f.notifier.sent[0].to != "guest@shop.test" {
		t.Fatalf("expected address email used, got %+v", f.notifier.sent)
	}
}

func TestCapturePaymentNotificationFailureDoesNotFail(t *testing.T) {
	f := newOrderFixture()
	f.notifier.fail = true
	f.seedPending("u1", "")

	result, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if !result.Email.Attempted || result.Email.Sent {
		t.Fatalf("expected attempted but unsent, got %+v", result.Email)
	}
	if !f.orders.orders["ord-1"].IsPaid() {
		t.Fatalf("expected order to stay captured")
	}
}

func TestCapturePaymentCompensatesWhenPersistConflicts(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	f.orders.updateFn = func(domain.Order, int64) error { return testRepoError{conflict: true} }
	cart := f.carts.carts["cart-1"]
	cart.Document = map[string]any{"userId": "u1", "coupon": "SAVE10"}
	f.carts.carts["cart-1"] = cart

	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
	if f.products.stock("p1") != 5 || f.products.stock("p2") != 3 {
		t.Fatalf("expected stock restored, got p1=%d p2=%d", f.products.stock("p1"), f.products.stock("p2"))
	}
	restored, ok := f.carts.carts["cart-1"]
	if !ok {
		t.Fatalf("expected cart restored")
	}
	if restored.Document["coupon"] != "SAVE10" {
		t.Fatalf("expected stored cart fields restored, got %v", restored.Document)
	}
	want := []string{"delete-cart", "reserve-stock"}
	if len(f.metrics.compensations) != 2 || f.metrics.compensations[0] != want[0] || f.metrics.compensations[1] != want[1] {
		t.Fatalf("expected compensations %v, got %v", want, f.metrics.compensations)
	}
	if len(f.notifier.sent) != 0 || len(f.events.events) != 0 {
		t.Fatalf("expected no notification or event after failure")
	}
}

func TestCapturePaymentInProgress(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	if _, err := f.locker.Acquire(context.Background(), captureLockPrefix+"ord-1", time.Minute); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1"})
	if !errors.Is(err, ErrOrderCaptureInProgress) {
		t.Fatalf("expected ErrOrderCaptureInProgress, got %v", err)
	}
	if f.products.stock("p1") != 5 {
		t.Fatalf("expected no stock movement")
	}
}

func TestCapturePaymentRejectsOtherUsersOrder(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", ActorID: "intruder"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCapturePaymentVerifiesWithProvider(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	f.gateway.confirmFn = func(req payments.ConfirmRequest) (payments.PaymentDetails, error) {
		if req.IntentID != "PAYID-ord-1" || req.PayerID != "payer-9" {
			t.Errorf("unexpected confirm request %+v", req)
		}
		return payments.PaymentDetails{Status: payments.StatusFailed}, nil
	}
	svc := f.service(t, func(d *OrderServiceDeps) { d.VerifyCapture = true })

	_, err := svc.CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", PaymentID: "PAYID-ord-1", PayerID: "payer-9"})
	if !errors.Is(err, ErrOrderPaymentDeclined) {
		t.Fatalf("expected ErrOrderPaymentDeclined, got %v", err)
	}
	if f.products.stock("p1") != 5 {
		t.Fatalf("expected no stock movement")
	}
}

func TestCapturePaymentChecksStockBeforeConfirming(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	p := f.products.products["p1"]
	p.TotalStock = 0
	f.products.products["p1"] = p
	f.gateway.confirmFn = func(payments.ConfirmRequest) (payments.PaymentDetails, error) {
		t.Errorf("payment should not be confirmed without stock")
		return payments.PaymentDetails{Status: payments.StatusSucceeded}, nil
	}
	svc := f.service(t, func(d *OrderServiceDeps) { d.VerifyCapture = true })

	_, err := svc.CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", PaymentID: "PAYID-ord-1", PayerID: "payer-9"})
	if !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected ErrOrderInsufficientStock, got %v", err)
	}
	if errors.Is(err, ErrOrderPaymentRefunded) || len(f.gateway.refunds) != 0 {
		t.Fatalf("expected no refund, got %v", f.gateway.refunds)
	}
	if f.orders.orders["ord-1"].IsPaid() {
		t.Fatalf("expected order to stay unpaid")
	}
}

func TestCapturePaymentRefundsSettledPaymentWhenStockRunsOut(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	p := f.products.products["p1"]
	p.TotalStock = 1
	f.products.products["p1"] = p

	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", PaymentID: "pi_1", Settled: true})
	if !errors.Is(err, ErrOrderPaymentRefunded) || !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected refunded stock failure, got %v", err)
	}
	if len(f.gateway.refunds) != 1 {
		t.Fatalf("expected one refund, got %d", len(f.gateway.refunds))
	}
	if r := f.gateway.refunds[0]; r.PaymentID != "pi_1" || r.IntentID != "PAYID-ord-1" || r.OrderID != "ord-1" {
		t.Fatalf("unexpected refund %+v", r)
	}
	if f.orders.orders["ord-1"].IsPaid() {
		t.Fatalf("expected order to stay unpaid")
	}
	if len(f.metrics.compensations) != 1 || f.metrics.compensations[0] != "collect-payment" {
		t.Fatalf("expected collect-payment compensation, got %v", f.metrics.compensations)
	}
	if got := f.metrics.captures; len(got) != 1 || got[0] != "failed" {
		t.Fatalf("expected failed outcome, got %v", got)
	}
}

func TestCapturePaymentRefundsConfirmedPaymentWhenPersistConflicts(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	f.orders.updateFn = func(domain.Order, int64) error { return testRepoError{conflict: true} }
	f.gateway.confirmFn = func(payments.ConfirmRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{Status: payments.StatusSucceeded, PaymentID: "SALE-1"}, nil
	}
	svc := f.service(t, func(d *OrderServiceDeps) { d.VerifyCapture = true })

	_, err := svc.CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", PaymentID: "PAYID-ord-1"})
	if !errors.Is(err, ErrOrderPaymentRefunded) || !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected refunded conflict, got %v", err)
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0].PaymentID != "SALE-1" {
		t.Fatalf("expected refund of SALE-1, got %+v", f.gateway.refunds)
	}
	want := []string{"delete-cart", "reserve-stock", "collect-payment"}
	got := f.metrics.compensations
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("expected compensations %v, got %v", want, got)
	}
	if f.products.stock("p1") != 5 {
		t.Fatalf("expected stock restored, got %d", f.products.stock("p1"))
	}
}

func TestCapturePaymentReportsFailedRefund(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	f.orders.updateFn = func(domain.Order, int64) error { return testRepoError{conflict: true} }
	f.gateway.refundErr = errors.New("provider down")

	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "ord-1", PaymentID: "pi_1", Settled: true})
	if !errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderPaymentRefunded) {
		t.Fatalf("expected plain conflict, got %v", err)
	}
	for _, step := range f.metrics.compensations {
		if step == "collect-payment" {
			t.Fatalf("failed refund recorded as a successful compensation")
		}
	}
}

func TestCapturePaymentAfterStaffAdvancedStatus(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	svc := f.service(t)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord-1", Status: "confirmed", ActorID: "admin"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord-1", Status: "inProcess", ActorID: "admin"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	result, err := svc.CapturePayment(ctx, CapturePaymentCommand{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	stored := f.orders.orders["ord-1"]
	if !stored.IsPaid() || stored.Status != domain.OrderStatusInProcess {
		t.Fatalf("expected paid inProcess order, got %s/%s", stored.PaymentStatus, stored.Status)
	}
	if result.Order.Status != domain.OrderStatusInProcess {
		t.Fatalf("expected status kept, got %s", result.Order.Status)
	}
	if f.products.stock("p1") != 3 {
		t.Fatalf("expected stock decremented, got %d", f.products.stock("p1"))
	}
}

func TestCapturePaymentRejectsCancelledOrder(t *testing.T) {
	f := newOrderFixture()
	order := f.seedPending("u1", "")
	order.Status = domain.OrderStatusCancelled
	f.orders.orders[order.ID] = order
	svc := f.service(t)
	ctx := context.Background()

	_, err := svc.CapturePayment(ctx, CapturePaymentCommand{OrderID: "ord-1"})
	if !errors.Is(err, ErrOrderInvalidTransition) || errors.Is(err, ErrOrderPaymentRefunded) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
	if len(f.gateway.refunds) != 0 {
		t.Fatalf("expected no refund for an unsettled capture")
	}

	_, err = svc.CapturePayment(ctx, CapturePaymentCommand{OrderID: "ord-1", PaymentID: "pi_1", Settled: true})
	if !errors.Is(err, ErrOrderInvalidTransition) || !errors.Is(err, ErrOrderPaymentRefunded) {
		t.Fatalf("expected refunded invalid transition, got %v", err)
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0].PaymentID != "pi_1" {
		t.Fatalf("expected refund of pi_1, got %+v", f.gateway.refunds)
	}
	if f.products.stock("p1") != 5 || f.orders.orders["ord-1"].IsPaid() {
		t.Fatalf("expected cancelled order untouched")
	}
}

func TestCapturePaymentUnknownOrder(t *testing.T) {
	f := newOrderFixture()
	_, err := f.service(t).CapturePayment(context.Background(), CapturePaymentCommand{OrderID: "missing"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestUpdateStatusFollowsLifecycle(t *testing.T) {
	f := newOrderFixture()
	order := f.seedPending("u1", "")
	order.Status = domain.OrderStatusConfirmed
	order.PaymentStatus = domain.PaymentStatusPaid
	f.orders.orders[order.ID] = order

	result, err := f.service(t).UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: "INPROCESS", ActorID: "admin"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if result.OutOfFlow {
		t.Fatalf("expected in-flow transition")
	}
	if stored := f.orders.orders["ord-1"]; stored.Status != domain.OrderStatusInProcess || stored.Version != 2 {
		t.Fatalf("unexpected stored order %s v%d", stored.Status, stored.Version)
	}
	if !result.Notification.Sent || f.notifier.sent[0].status != "inProcess" {
		t.Fatalf("expected notification for inProcess, got %+v", f.notifier.sent)
	}
	if ev := f.events.events[0]; ev.Type != orderEventStatusChanged || ev.PreviousStatus != "confirmed" || ev.ActorID != "admin" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestUpdateStatusWithoutRecipient(t *testing.T) {
	f := newOrderFixture()
	f.users.users = map[string]domain.User{"u1": {ID: "u1"}}
	f.seedPending("u1", "")

	result, err := f.service(t).UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: "confirmed", ActorID: "admin"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if result.Notification.Attempted || result.Notification.Sent {
		t.Fatalf("expected no attempt, got %+v", result.Notification)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("expected no email, got %+v", f.notifier.sent)
	}
	if f.orders.orders["ord-1"].Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected status change to persist")
	}
}

func TestUpdateStatusPermissiveFlagsOutOfFlow(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")

	result, err := f.service(t).UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: "delivered"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !result.OutOfFlow || result.Order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected out-of-flow delivered, got %+v", result)
	}
	if len(f.metrics.transitions) != 1 || f.metrics.transitions[0] != "delivered:out_of_flow" {
		t.Fatalf("unexpected transition metrics %v", f.metrics.transitions)
	}
}

func TestUpdateStatusStrictRejectsOutOfFlow(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	svc := f.service(t, func(d *OrderServiceDeps) { d.StrictTransitions = true })

	_, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: "shipped"})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: "cancelled"}); err != nil {
		t.Fatalf("expected cancellation allowed, got %v", err)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	_, err := f.service(t).UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: "teleported"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestListUserOrdersRequiresUser(t *testing.T) {
	f := newOrderFixture()
	f.seedPending("u1", "")
	svc := f.service(t)
	if _, err := svc.ListUserOrders(context.Background(), " "); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	orders, err := svc.ListUserOrders(context.Background(), "u1")
	if err != nil || len(orders) != 1 {
		t.Fatalf("expected one order, got %d (%v)", len(orders), err)
	}
}
