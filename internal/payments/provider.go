package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the normalised payment state shared by every provider.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when no registered provider matches.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrIntentNotFound is returned when the provider does not know the intent.
	ErrIntentNotFound = errors.New("payments: intent not found")
)

// Logger receives structured provider events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

// LineItem is one priced line sent to the provider. UnitAmount is in minor units.
type LineItem struct {
	Name       string
	SKU        string
	UnitAmount int64
	Currency   string
	Quantity   int64
}

// IntentRequest asks a provider to open a payment the customer must approve.
type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	Items          []LineItem
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the provider-side payment awaiting approval.
type Intent struct {
	ID          string
	Provider    string
	ApprovalURL string
	Status      Status
	ExpiresAt   time.Time
}

// ConfirmRequest completes an approved intent.
type ConfirmRequest struct {
	IntentID  string
	PaymentID string
	PayerID   string
	OrderID   string
}

// RefundRequest returns a settled payment to the payer in full. PaymentID is
// the provider's charge or sale id when known; providers fall back to looking
// it up from IntentID.
type RefundRequest struct {
	IntentID       string
	PaymentID      string
	OrderID        string
	Reason         string
	IdempotencyKey string
}

// PaymentDetails is the provider's view of a payment.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	PaymentID  string
	PayerID    string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
}

// Provider is implemented by each payment service adapter.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Confirm(ctx context.Context, req ConfirmRequest) (PaymentDetails, error)
	Cancel(ctx context.Context, intentID string) error
	Refund(ctx context.Context, req RefundRequest) error
	Lookup(ctx context.Context, intentID string) (PaymentDetails, error)
}

// PaymentContext carries hints used to pick a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager routes calls to the provider chosen for each payment.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider selects the provider used when no hint matches.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) { m.defaultProvider = normaliseKey(name) }
}

// WithCurrencyRoutes maps currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = normaliseKey(provider)
		}
	}
}

// NewManager registers providers by name.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: map[string]string{},
	}
	for name, p := range providers {
		key := normaliseKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		m.providers[key] = p
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Manager) resolve(pc PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if key := normaliseKey(pc.PreferredProvider); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if key, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(pc.Currency))]; ok {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePaymentIntent opens a payment with the resolved provider. The
// returned Intent names the provider that must be used for later calls.
func (m *Manager) CreatePaymentIntent(ctx context.Context, pc PaymentContext, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolve(pc)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// ConfirmPayment asks the provider to settle an approved intent.
func (m *Manager) ConfirmPayment(ctx context.Context, pc PaymentContext, req ConfirmRequest) (PaymentDetails, error) {
	key, provider, err := m.resolve(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.Confirm(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// CancelIntent abandons an intent that was never approved.
func (m *Manager) CancelIntent(ctx context.Context, pc PaymentContext, intentID string) error {
	_, provider, err := m.resolve(pc)
	if err != nil {
		return err
	}
	return provider.Cancel(ctx, intentID)
}

// RefundPayment reverses a settled payment with the resolved provider.
func (m *Manager) RefundPayment(ctx context.Context, pc PaymentContext, req RefundRequest) error {
	_, provider, err := m.resolve(pc)
	if err != nil {
		return err
	}
	return provider.Refund(ctx, req)
}

// LookupPayment fetches the provider's current view of an intent.
func (m *Manager) LookupPayment(ctx context.Context, pc PaymentContext, intentID string) (PaymentDetails, error) {
	key, provider, err := m.resolve(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.Lookup(ctx, intentID)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func normaliseKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
