package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
)

const (
	payPalSandboxURL = "https://api-m.sandbox.paypal.com"
	payPalLiveURL    = "https://api-m.paypal.com"
	payPalTimeout    = 15 * time.Second
)

// PayPalProviderConfig configures the PayPal REST adapter.
type PayPalProviderConfig struct {
	ClientID     string
	ClientSecret string
	// Mode is "sandbox" or "live". BaseURL wins when set.
	Mode       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
	Clock      func() time.Time
}

// PayPalProvider drives the PayPal v1 payments API: create a sale, redirect
// the buyer to the approval link, then execute it with the payer id.
type PayPalProvider struct {
	baseURL string
	client  *http.Client
	logger  Logger
	clock   func() time.Time
}

// NewPayPalProvider builds a provider that authenticates with OAuth2 client credentials.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = payPalSandboxURL
		if strings.EqualFold(cfg.Mode, "live") {
			base = payPalLiveURL
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: payPalTimeout}
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &PayPalProvider{
		baseURL: base,
		client:  creds.Client(tokenCtx),
		logger:  logger,
		clock:   clock,
	}, nil
}

type payPalAmount struct {
	Currency string `json:"currency"`
	Total    string `json:"total"`
}

type payPalItem struct {
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	Quantity int64  `json:"quantity"`
}

type payPalTransaction struct {
	ItemList *struct {
		Items []payPalItem `json:"items"`
	} `json:"item_list,omitempty"`
	Amount           payPalAmount `json:"amount"`
	Description      string       `json:"description,omitempty"`
	InvoiceNumber    string       `json:"invoice_number,omitempty"`
	RelatedResources []struct {
		Sale *struct {
			ID         string `json:"id"`
			State      string `json:"state"`
			CreateTime string `json:"create_time"`
		} `json:"sale,omitempty"`
	} `json:"related_resources,omitempty"`
}

type payPalPayment struct {
	ID           string              `json:"id,omitempty"`
	Intent       string              `json:"intent,omitempty"`
	State        string              `json:"state,omitempty"`
	Payer        *payPalPayer        `json:"payer,omitempty"`
	Transactions []payPalTransaction `json:"transactions,omitempty"`
	RedirectURLs *struct {
		ReturnURL string `json:"return_url"`
		CancelURL string `json:"cancel_url"`
	} `json:"redirect_urls,omitempty"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links,omitempty"`
}

type payPalPayer struct {
	PaymentMethod string `json:"payment_method,omitempty"`
	PayerInfo     *struct {
		PayerID string `json:"payer_id"`
	} `json:"payer_info,omitempty"`
}

type payPalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// CreateIntent creates a "sale" payment and returns its approval link.
func (p *PayPalProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	currency := strings.ToUpper(defaultString(req.Currency, "USD"))
	tx := payPalTransaction{
		Amount:        payPalAmount{Currency: currency, Total: domain.FormatMinorUnits(req.Amount)},
		Description:   "Order " + req.OrderID,
		InvoiceNumber: req.OrderID,
	}
	if len(req.Items) > 0 {
		tx.ItemList = &struct {
			Items []payPalItem `json:"items"`
		}{}
		for _, item := range req.Items {
			tx.ItemList.Items = append(tx.ItemList.Items, payPalItem{
				Name:     item.Name,
				SKU:      item.SKU,
				Price:    domain.FormatMinorUnits(item.UnitAmount),
				Currency: strings.ToUpper(defaultString(item.Currency, currency)),
				Quantity: item.Quantity,
			})
		}
	}
	body := payPalPayment{
		Intent:       "sale",
		Payer:        &payPalPayer{PaymentMethod: "paypal"},
		Transactions: []payPalTransaction{tx},
		RedirectURLs: &struct {
			ReturnURL string `json:"return_url"`
			CancelURL string `json:"cancel_url"`
		}{ReturnURL: req.ReturnURL, CancelURL: req.CancelURL},
	}

	var created payPalPayment
	if err := p.do(ctx, http.MethodPost, "/v1/payments/payment", req.IdempotencyKey, body, &created); err != nil {
		return Intent{}, fmt.Errorf("paypal: create payment: %w", err)
	}

	approval := ""
	for _, link := range created.Links {
		if link.Rel == "approval_url" {
			approval = link.Href
		}
	}
	if approval == "" {
		return Intent{}, errors.New("paypal: create payment: approval link missing")
	}

	p.logger(ctx, "payments.paypal.payment.created", map[string]any{
		"orderId":   req.OrderID,
		"paymentId": created.ID,
		"state":     created.State,
	})
	return Intent{
		ID:          created.ID,
		Provider:    "paypal",
		ApprovalURL: approval,
		Status:      StatusPending,
		ExpiresAt:   p.clock().UTC().Add(3 * time.Hour),
	}, nil
}

// Confirm executes the approved payment for the payer.
func (p *PayPalProvider) Confirm(ctx context.Context, req ConfirmRequest) (PaymentDetails, error) {
	id := defaultString(req.PaymentID, req.IntentID)
	if id == "" || strings.TrimSpace(req.PayerID) == "" {
		return PaymentDetails{}, errors.New("paypal: payment id and payer id are required")
	}
	var executed payPalPayment
	path := "/v1/payments/payment/" + url.PathEscape(id) + "/execute"
	if err := p.do(ctx, http.MethodPost, path, "", map[string]string{"payer_id": req.PayerID}, &executed); err != nil {
		return PaymentDetails{}, fmt.Errorf("paypal: execute payment: %w", err)
	}
	details := payPalDetails(executed)
	if details.PayerID == "" {
		details.PayerID = req.PayerID
	}
	p.logger(ctx, "payments.paypal.payment.executed", map[string]any{
		"paymentId": executed.ID,
		"state":     executed.State,
	})
	return details, nil
}

// Cancel is a no-op: unapproved v1 payments expire on the PayPal side.
func (p *PayPalProvider) Cancel(ctx context.Context, intentID string) error {
	p.logger(ctx, "payments.paypal.payment.abandoned", map[string]any{"paymentId": intentID})
	return nil
}

// Refund refunds the completed sale behind a payment in full. Without a sale
// id the payment is fetched to find it.
func (p *PayPalProvider) Refund(ctx context.Context, req RefundRequest) error {
	saleID := strings.TrimSpace(req.PaymentID)
	if saleID == "" || strings.HasPrefix(saleID, "PAYID-") {
		details, err := p.Lookup(ctx, defaultString(req.IntentID, saleID))
		if err != nil {
			return err
		}
		if !details.Captured || details.PaymentID == "" {
			return fmt.Errorf("paypal: refund: payment %s has no completed sale", details.IntentID)
		}
		saleID = details.PaymentID
	}

	body := map[string]string{}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}
	var refund struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	path := "/v1/payments/sale/" + url.PathEscape(saleID) + "/refund"
	if err := p.do(ctx, http.MethodPost, path, req.IdempotencyKey, body, &refund); err != nil {
		return fmt.Errorf("paypal: refund sale: %w", err)
	}
	p.logger(ctx, "payments.paypal.sale.refunded", map[string]any{
		"orderId":  req.OrderID,
		"saleId":   saleID,
		"refundId": refund.ID,
		"state":    refund.State,
	})
	return nil
}

// Lookup fetches the payment resource.
func (p *PayPalProvider) Lookup(ctx context.Context, intentID string) (PaymentDetails, error) {
	var payment payPalPayment
	if err := p.do(ctx, http.MethodGet, "/v1/payments/payment/"+url.PathEscape(intentID), "", nil, &payment); err != nil {
		return PaymentDetails{}, fmt.Errorf("paypal: lookup payment: %w", err)
	}
	return payPalDetails(payment), nil
}

func (p *PayPalProvider) do(ctx context.Context, method, path, requestID string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrIntentNotFound
	}
	if resp.StatusCode >= 300 {
		var apiErr payPalError
		_ = json.Unmarshal(data, &apiErr)
		return fmt.Errorf("status %d: %s %s", resp.StatusCode, apiErr.Name, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func payPalDetails(payment payPalPayment) PaymentDetails {
	details := PaymentDetails{
		Provider: "paypal",
		IntentID: payment.ID,
		Status:   StatusPending,
	}
	if payment.Payer != nil && payment.Payer.PayerInfo != nil {
		details.PayerID = payment.Payer.PayerInfo.PayerID
	}
	switch payment.State {
	case "failed":
		details.Status = StatusFailed
	case "canceled", "expired":
		details.Status = StatusCancelled
	}
	for _, tx := range payment.Transactions {
		if cents, err := domain.ParseMinorUnits(tx.Amount.Total); err == nil {
			details.Amount = cents
		}
		details.Currency = tx.Amount.Currency
		for _, res := range tx.RelatedResources {
			if res.Sale == nil {
				continue
			}
			details.PaymentID = res.Sale.ID
			switch res.Sale.State {
			case "completed":
				details.Status = StatusSucceeded
				details.Captured = true
				if at, err := time.Parse(time.RFC3339, res.Sale.CreateTime); err == nil {
					at = at.UTC()
					details.CapturedAt = &at
				}
			case "denied":
				details.Status = StatusFailed
			}
		}
	}
	return details
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
