package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/services"
)

const maxJSONBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

type addressPayload struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
	Phone   string `json:"phone"`
	Notes   string `json:"notes,omitempty"`
	Email   string `json:"email,omitempty"`
}

type orderItemPayload struct {
	ProductID string   `json:"productId"`
	Title     string   `json:"title"`
	Image     string   `json:"image,omitempty"`
	Price     float64  `json:"price"`
	SalePrice *float64 `json:"salePrice,omitempty"`
	Quantity  int      `json:"quantity"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	UserID          string             `json:"userId,omitempty"`
	CartID          string             `json:"cartId,omitempty"`
	CartItems       []orderItemPayload `json:"cartItems"`
	AddressInfo     addressPayload     `json:"addressInfo"`
	OrderStatus     string             `json:"orderStatus"`
	PaymentMethod   string             `json:"paymentMethod,omitempty"`
	PaymentStatus   string             `json:"paymentStatus"`
	PaymentProvider string             `json:"paymentProvider,omitempty"`
	PaymentID       string             `json:"paymentId,omitempty"`
	PayerID         string             `json:"payerId,omitempty"`
	TotalAmount     float64            `json:"totalAmount"`
	Currency        string             `json:"currency"`
	OrderDate       string             `json:"orderDate"`
	OrderUpdateDate string             `json:"orderUpdateDate"`
	CapturedAt      string             `json:"capturedAt,omitempty"`
	Version         int64              `json:"version"`
}

type createOrderItemRequest struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
}

type createOrderRequest struct {
	UserID          string                   `json:"userId"`
	CartID          string                   `json:"cartId"`
	CartItems       []createOrderItemRequest `json:"cartItems"`
	AddressInfo     addressPayload           `json:"addressInfo"`
	TotalAmount     *float64                 `json:"totalAmount"`
	OrderStatus     string                   `json:"orderStatus"`
	PaymentMethod   string                   `json:"paymentMethod"`
	PaymentProvider string                   `json:"paymentProvider"`
	Currency        string                   `json:"currency"`
}

type capturePaymentRequest struct {
	PaymentID string `json:"paymentId"`
	PayerID   string `json:"payerId"`
	OrderID   string `json:"orderId"`
}

type updateStatusRequest struct {
	OrderStatus string `json:"orderStatus"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		p := orderItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Image:     item.Image,
			Price:     domain.FromMinorUnits(item.Price),
			Quantity:  item.Quantity,
		}
		if item.SalePrice != nil {
			sale := domain.FromMinorUnits(*item.SalePrice)
			p.SalePrice = &sale
		}
		items = append(items, p)
	}
	payload := orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		CartID:          order.CartID,
		CartItems:       items,
		AddressInfo:     addressPayload(order.Address),
		OrderStatus:     string(order.Status),
		PaymentMethod:   order.PaymentMethod,
		PaymentStatus:   string(order.PaymentStatus),
		PaymentProvider: order.PaymentProvider,
		PaymentID:       order.PaymentID,
		PayerID:         order.PayerID,
		TotalAmount:     domain.FromMinorUnits(order.TotalAmount),
		Currency:        order.Currency,
		OrderDate:       formatTime(order.OrderDate),
		OrderUpdateDate: formatTime(order.OrderUpdateDate),
		Version:         order.Version,
	}
	if order.CapturedAt != nil {
		payload.CapturedAt = formatTime(*order.CapturedAt)
	}
	return payload
}

func buildOrderPayloads(orders []domain.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

// toCreateCommand converts the request. Quantities must be whole numbers.
func (req createOrderRequest) toCreateCommand(userID, actorID string) (services.CreateOrderCommand, error) {
	items := make([]services.CreateOrderItem, 0, len(req.CartItems))
	for _, item := range req.CartItems {
		if item.Quantity <= 0 || item.Quantity != math.Trunc(item.Quantity) || item.Quantity > math.MaxInt32 {
			return services.CreateOrderCommand{}, errors.New("cartItems quantity must be a positive integer")
		}
		items = append(items, services.CreateOrderItem{ProductID: item.ProductID, Quantity: int(item.Quantity)})
	}
	cmd := services.CreateOrderCommand{
		UserID:        userID,
		CartID:        strings.TrimSpace(req.CartID),
		Items:         items,
		Address:       domain.OrderAddress(req.AddressInfo),
		Status:        req.OrderStatus,
		PaymentMethod: req.PaymentMethod,
		Provider:      req.PaymentProvider,
		Currency:      req.Currency,
		ActorID:       actorID,
	}
	if req.TotalAmount != nil {
		total := domain.ToMinorUnits(*req.TotalAmount)
		cmd.TotalAmount = &total
	}
	return cmd, nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	data, err := readLimitedBody(r, maxJSONBodySize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
