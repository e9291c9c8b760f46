package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	dateLayout           = "January 2, 2006"
	defaultPaymentStatus = "Pending"
	defaultSupportEmail  = "support@yourstore.com"
)

type statusCopy struct {
	phrase  string
	heading string
	text    string
}

// Keys are lower case; lookups fold the incoming status.
var statusCopies = map[string]statusCopy{
	"confirmed": {"has been confirmed and is being processed", "🎉 Order Confirmed!", "🎉 Great news! Your order has been confirmed and we're getting it ready for you."},
	"inprocess": {"is currently being prepared", "⚙️ Order in Progress", "⚙️ Your order is currently being prepared by our team."},
	"shipped":   {"has been shipped and is on its way", "🚚 Order Shipped!", "🚚 Exciting news! Your order is on its way and should arrive soon."},
	"delivered": {"has been successfully delivered", "✅ Order Delivered!", "✅ Wonderful! Your order has been delivered. We hope you love your purchase!"},
	"cancelled": {"has been cancelled", "❌ Order Cancelled", "❌ Your order has been cancelled. If this was unexpected, please contact our support team."},
	"returned":  {"has been processed for return", "↩️ Return Processed", "↩️ Your return has been processed. Refund details will follow separately."},
	"pending":   {"is pending and will be updated soon", "⏳ Order Pending", "⏳ Your order is pending. We'll update you as soon as there's progress."},
}

// Message is a rendered email.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer produces order status emails.
type Renderer struct {
	text         *texttemplate.Template
	html         *htmltemplate.Template
	policy       *bluemonday.Policy
	printer      *message.Printer
	supportEmail string
}

// NewRenderer parses the embedded templates.
func NewRenderer(supportEmail string) (*Renderer, error) {
	funcs := map[string]any{"rule": func() string { return strings.Repeat("━", 64) }}
	text, err := texttemplate.New("order_status.txt.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/order_status.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("notifications: parse text template: %w", err)
	}
	htmlTmpl, err := htmltemplate.New("order_status.html.tmpl").ParseFS(templateFS, "templates/order_status.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("notifications: parse html template: %w", err)
	}
	if strings.TrimSpace(supportEmail) == "" {
		supportEmail = defaultSupportEmail
	}
	return &Renderer{
		text:         text,
		html:         htmlTmpl,
		policy:       bluemonday.StrictPolicy(),
		printer:      message.NewPrinter(language.AmericanEnglish),
		supportEmail: supportEmail,
	}, nil
}

// StatusPhrase returns the sentence fragment describing status.
func StatusPhrase(status string) string {
	if c, ok := statusCopies[strings.ToLower(strings.TrimSpace(status))]; ok {
		return c.phrase
	}
	return "status has been updated to " + status
}

// Subject builds the email subject line for status.
func Subject(status string) string {
	return "Order Update: Your order " + StatusPhrase(status)
}

type callout struct {
	Heading string
	Text    string
}

func statusCallout(status string) callout {
	if c, ok := statusCopies[strings.ToLower(strings.TrimSpace(status))]; ok {
		return callout{Heading: c.heading, Text: c.text}
	}
	return callout{Heading: "📋 Status Update", Text: "📋 Your order status has been updated to: " + status + "."}
}

type itemView struct {
	Title     string
	Quantity  int
	UnitPrice string
}

type addressView struct {
	Address string
	City    string
	Pincode string
	Phone   string
	Notes   string
}

type orderView struct {
	OrderID       string
	OrderDate     string
	Status        string
	BadgeClass    string
	Phrase        string
	PaymentStatus string
	Total         string
	Items         []itemView
	Address       addressView
	Callout       callout
	SupportEmail  string
}

// RenderOrderStatus renders the subject, plain text and HTML bodies for order at status.
func (r *Renderer) RenderOrderStatus(order domain.Order, status string) (Message, error) {
	view := r.view(order, status)

	var textBuf, htmlBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, view); err != nil {
		return Message{}, fmt.Errorf("notifications: render text: %w", err)
	}
	if err := r.html.Execute(&htmlBuf, view); err != nil {
		return Message{}, fmt.Errorf("notifications: render html: %w", err)
	}
	return Message{Subject: Subject(status), Text: textBuf.String(), HTML: htmlBuf.String()}, nil
}

func (r *Renderer) view(order domain.Order, status string) orderView {
	cur := order.Currency
	paymentStatus := string(order.PaymentStatus)
	if paymentStatus == "" {
		paymentStatus = defaultPaymentStatus
	}
	badge := "status-default"
	switch s := strings.ToLower(status); s {
	case "confirmed", "shipped", "delivered":
		badge = "status-" + s
	}
	date := order.OrderDate
	if date.IsZero() {
		date = time.Now()
	}

	view := orderView{
		OrderID:       order.ID,
		OrderDate:     date.Format(dateLayout),
		Status:        status,
		BadgeClass:    badge,
		Phrase:        StatusPhrase(status),
		PaymentStatus: paymentStatus,
		Total:         r.FormatMoney(order.TotalAmount, cur),
		Callout:       statusCallout(status),
		SupportEmail:  r.supportEmail,
		Address: addressView{
			Address: r.clean(order.Address.Address),
			City:    r.clean(order.Address.City),
			Pincode: r.clean(order.Address.Pincode),
			Phone:   r.clean(order.Address.Phone),
			Notes:   r.clean(order.Address.Notes),
		},
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, itemView{
			Title:     r.clean(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: r.FormatMoney(item.EffectivePrice(), cur),
		})
	}
	return view
}

// FormatMoney renders minor units as a currency amount, e.g. "$1,234.50".
func (r *Renderer) FormatMoney(cents int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		unit = currency.USD
	}
	amount := float64(cents) / 100
	return r.printer.Sprint(currency.Symbol(unit)) + r.printer.Sprint(number.Decimal(amount, number.Scale(2)))
}

// clean strips markup from customer-supplied text. Templates escape the
// result, so entities produced by the sanitizer are decoded first.
func (r *Renderer) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(s)))
}
