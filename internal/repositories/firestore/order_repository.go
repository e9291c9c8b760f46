package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	pfirestore "github.com/VengurlekarMayuresh/CCL/internal/platform/firestore"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository stores orders in the "orders" collection keyed by order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository binds the repository to provider.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, orderCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, encodeOrder(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(orderID, doc), nil
}

func (r *OrderRepository) UpdateIfVersion(ctx context.Context, order domain.Order, expectedVersion int64) error {
	ref, err := r.orders.Ref(ctx, order.ID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		current, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return pfirestore.Conflict("orders.update", "order %s version %d, expected %d", order.ID, current.Version, expectedVersion)
		}
		return tx.Set(ref, encodeOrder(order))
	})
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("orderDate", firestore.Desc)
	})
}

func (r *OrderRepository) ListAll(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("orderDate", firestore.Desc)
	})
}

func (r *OrderRepository) list(ctx context.Context, build func(firestore.Query) firestore.Query) ([]domain.Order, error) {
	docs, ids, err := r.orders.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(docs))
	for i, doc := range docs {
		out = append(out, decodeOrder(ids[i], doc))
	}
	return out, nil
}

type orderDocument struct {
	UserID          string              `firestore:"userId"`
	CartID          string              `firestore:"cartId"`
	CartItems       []orderItemDocument `firestore:"cartItems"`
	AddressInfo     orderAddressDoc     `firestore:"addressInfo"`
	OrderStatus     string              `firestore:"orderStatus"`
	PaymentStatus   string              `firestore:"paymentStatus"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	PaymentProvider string              `firestore:"paymentProvider"`
	PaymentIntentID string              `firestore:"paymentIntentId"`
	PaymentID       string              `firestore:"paymentId,omitempty"`
	PayerID         string              `firestore:"payerId,omitempty"`
	Currency        string              `firestore:"currency"`
	TotalAmount     int64               `firestore:"totalAmountMinor"`
	Version         int64               `firestore:"version"`
	OrderDate       time.Time           `firestore:"orderDate"`
	OrderUpdateDate time.Time           `firestore:"orderUpdateDate"`
	CapturedAt      *time.Time          `firestore:"capturedAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Title     string `firestore:"title"`
	Image     string `firestore:"image"`
	Price     int64  `firestore:"priceMinor"`
	SalePrice *int64 `firestore:"salePriceMinor,omitempty"`
	Quantity  int    `firestore:"quantity"`
}

type orderAddressDoc struct {
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	Pincode string `firestore:"pincode"`
	Phone   string `firestore:"phone"`
	Notes   string `firestore:"notes"`
	Email   string `firestore:"email"`
}

func encodeOrder(o domain.Order) orderDocument {
	doc := orderDocument{
		UserID:          o.UserID,
		CartID:          o.CartID,
		AddressInfo:     orderAddressDoc(o.Address),
		OrderStatus:     string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentMethod:   o.PaymentMethod,
		PaymentProvider: o.PaymentProvider,
		PaymentIntentID: o.PaymentIntentID,
		PaymentID:       o.PaymentID,
		PayerID:         o.PayerID,
		Currency:        o.Currency,
		TotalAmount:     o.TotalAmount,
		Version:         o.Version,
		OrderDate:       o.OrderDate.UTC(),
		OrderUpdateDate: o.OrderUpdateDate.UTC(),
		CapturedAt:      o.CapturedAt,
	}
	for _, item := range o.Items {
		doc.CartItems = append(doc.CartItems, orderItemDocument(item))
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	o := domain.Order{
		ID:              id,
		UserID:          doc.UserID,
		CartID:          doc.CartID,
		Address:         domain.OrderAddress(doc.AddressInfo),
		Status:          domain.OrderStatus(doc.OrderStatus),
		PaymentStatus:   domain.PaymentStatus(doc.PaymentStatus),
		PaymentMethod:   doc.PaymentMethod,
		PaymentProvider: doc.PaymentProvider,
		PaymentIntentID: doc.PaymentIntentID,
		PaymentID:       doc.PaymentID,
		PayerID:         doc.PayerID,
		Currency:        doc.Currency,
		TotalAmount:     doc.TotalAmount,
		Version:         doc.Version,
		OrderDate:       doc.OrderDate,
		OrderUpdateDate: doc.OrderUpdateDate,
		CapturedAt:      doc.CapturedAt,
	}
	for _, item := range doc.CartItems {
		o.Items = append(o.Items, domain.OrderLineItem(item))
	}
	return o
}
