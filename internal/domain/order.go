package domain

import "time"

// PaymentStatus records whether the payment for an order has been captured.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Order is a customer's purchase from creation through fulfilment.
// Monetary values are minor units of Currency.
type Order struct {
	ID              string
	UserID          string
	CartID          string
	Items           []OrderLineItem
	Address         OrderAddress
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   string
	PaymentProvider string
	PaymentIntentID string
	PaymentID       string
	PayerID         string
	Currency        string
	TotalAmount     int64
	Version         int64
	OrderDate       time.Time
	OrderUpdateDate time.Time
	CapturedAt      *time.Time
}

// OrderLineItem is a catalog snapshot taken when the order was placed.
type OrderLineItem struct {
	ProductID string
	Title     string
	Image     string
	Price     int64
	SalePrice *int64
	Quantity  int
}

// EffectivePrice is the sale price when one is set, otherwise the list price.
func (i OrderLineItem) EffectivePrice() int64 {
	if i.SalePrice != nil && *i.SalePrice > 0 {
		return *i.SalePrice
	}
	return i.Price
}

// Subtotal is EffectivePrice times Quantity.
func (i OrderLineItem) Subtotal() int64 {
	return i.EffectivePrice() * int64(i.Quantity)
}

// OrderAddress is the shipping destination and contact details.
type OrderAddress struct {
	Address string
	City    string
	Pincode string
	Phone   string
	Notes   string
	Email   string
}

// IsPaid reports whether capture has completed.
func (o Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// ComputeTotal sums every line subtotal.
func ComputeTotal(items []OrderLineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// Product is the catalog view consumed by order workflows.
type Product struct {
	ID         string
	Title      string
	Image      string
	Price      int64
	SalePrice  *int64
	TotalStock int
}

// Cart is a user's shopping cart. It is opaque to the order workflow apart
// from being deleted, and restored on rollback.
type Cart struct {
	ID     string
	UserID string
	Items  []CartItem
	// Document holds the stored fields as read so a restore puts back the
	// cart unchanged. Nil for carts not loaded from storage.
	Document map[string]any
}

// CartItem is one product line in a cart.
type CartItem struct {
	ProductID string
	Quantity  int
}

// User is the account record used to resolve notification addresses.
type User struct {
	ID       string
	UserName string
	Email    string
	Role     string
}
