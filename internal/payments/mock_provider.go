package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MockPayerID is the payer id the mock approval link reports.
const MockPayerID = "mock-payer"

// MockProvider approves every payment locally. The approval link points
// straight at the return URL with the query parameters PayPal would add.
type MockProvider struct {
	clock func() time.Time

	mu      sync.Mutex
	intents map[string]*mockIntent
}

type mockIntent struct {
	orderID  string
	amount   int64
	currency string
	status   Status
	payerID  string
	captured *time.Time
}

// NewMockProvider returns an empty MockProvider.
func NewMockProvider(clock func() time.Time) *MockProvider {
	if clock == nil {
		clock = time.Now
	}
	return &MockProvider{clock: clock, intents: make(map[string]*mockIntent)}
}

func (m *MockProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	id := "PAYID-MOCK-" + strings.ToUpper(req.OrderID)

	m.mu.Lock()
	m.intents[id] = &mockIntent{
		orderID:  req.OrderID,
		amount:   req.Amount,
		currency: strings.ToUpper(defaultString(req.Currency, "USD")),
		status:   StatusPending,
	}
	m.mu.Unlock()

	query := url.Values{}
	query.Set("paymentId", id)
	query.Set("PayerID", MockPayerID)
	query.Set("orderId", req.OrderID)
	return Intent{
		ID:          id,
		Provider:    "mock",
		ApprovalURL: appendQuery(req.ReturnURL, query.Encode()),
		Status:      StatusPending,
		ExpiresAt:   m.clock().UTC().Add(3 * time.Hour),
	}, nil
}

// Confirm succeeds for any pending intent. Unknown ids are accepted as well
// so locally created orders survive a restart.
func (m *MockProvider) Confirm(_ context.Context, req ConfirmRequest) (PaymentDetails, error) {
	id := defaultString(req.IntentID, req.PaymentID)

	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		intent = &mockIntent{orderID: req.OrderID, status: StatusPending}
		m.intents[id] = intent
	}
	if intent.status == StatusPending {
		now := m.clock().UTC()
		intent.status = StatusSucceeded
		intent.payerID = req.PayerID
		intent.captured = &now
	}
	return intent.details(id), nil
}

func (m *MockProvider) Cancel(_ context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.intents[intentID]; ok && intent.status == StatusPending {
		intent.status = StatusCancelled
	}
	return nil
}

// Refund marks a settled intent refunded. Refunding twice is a no-op.
func (m *MockProvider) Refund(_ context.Context, req RefundRequest) error {
	id := defaultString(req.IntentID, req.PaymentID)

	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	switch intent.status {
	case StatusSucceeded:
		intent.status = StatusRefunded
	case StatusRefunded:
	default:
		return fmt.Errorf("payments: mock intent %s is %s, nothing to refund", id, intent.status)
	}
	return nil
}

func (m *MockProvider) Lookup(_ context.Context, intentID string) (PaymentDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return PaymentDetails{}, ErrIntentNotFound
	}
	return intent.details(intentID), nil
}

func (i *mockIntent) details(id string) PaymentDetails {
	return PaymentDetails{
		Provider:   "mock",
		IntentID:   id,
		PaymentID:  id,
		PayerID:    i.payerID,
		Status:     i.status,
		Amount:     i.amount,
		Currency:   i.currency,
		Captured:   i.status == StatusSucceeded,
		CapturedAt: i.captured,
	}
}
