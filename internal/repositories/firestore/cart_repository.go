package firestore

import (
	"context"
	"errors"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	pfirestore "github.com/VengurlekarMayuresh/CCL/internal/platform/firestore"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

const cartCollection = "carts"

// CartRepository manages cart documents.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository binds the repository to provider.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{carts: pfirestore.NewCollection[cartDocument](provider, cartCollection)}, nil
}

// FindByID decodes the cart and keeps the stored fields so Restore can write
// back fields this service does not model.
func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	snap, err := r.carts.Snapshot(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	doc, err := pfirestore.Decode[cartDocument](snap)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := domain.Cart{ID: cartID, UserID: doc.UserID, Document: snap.Data()}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem(item))
	}
	return cart, nil
}

func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	return r.carts.Delete(ctx, cartID)
}

func (r *CartRepository) Restore(ctx context.Context, cart domain.Cart) error {
	if cart.Document != nil {
		return r.carts.SetRaw(ctx, cart.ID, cart.Document)
	}
	doc := cartDocument{UserID: cart.UserID}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument(item))
	}
	return r.carts.Set(ctx, cart.ID, doc)
}

type cartDocument struct {
	UserID string             `firestore:"userId"`
	Items  []cartItemDocument `firestore:"items"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}
