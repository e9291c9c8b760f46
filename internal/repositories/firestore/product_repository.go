package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	pfirestore "github.com/VengurlekarMayuresh/CCL/internal/platform/firestore"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads the catalog. Prices are stored as decimal major
// units, the way the catalog admin writes them.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository binds the repository to provider.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productCollection),
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	ref, err := r.products.Ref(ctx, productID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			wrapped := pfirestore.WrapError("products.decrement", err)
			var repoErr repositories.RepositoryError
			if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
				return &repositories.StockError{Code: repositories.StockErrorNotFound, ProductID: productID, Requested: qty}
			}
			return wrapped
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return err
		}
		if doc.TotalStock < qty {
			return &repositories.StockError{Code: repositories.StockErrorInsufficient, ProductID: productID, Available: doc.TotalStock, Requested: qty}
		}
		return tx.Update(ref, []firestore.Update{{Path: "totalStock", Value: doc.TotalStock - qty}})
	})
}

func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, qty int) error {
	ref, err := r.products.Ref(ctx, productID)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{{Path: "totalStock", Value: firestore.Increment(qty)}})
	return pfirestore.WrapError("products.increment", err)
}

type productDocument struct {
	Title      string   `firestore:"title"`
	Image      string   `firestore:"image"`
	Price      float64  `firestore:"price"`
	SalePrice  *float64 `firestore:"salePrice"`
	TotalStock int      `firestore:"totalStock"`
}

func (d productDocument) toDomain(id string) domain.Product {
	p := domain.Product{
		ID:         id,
		Title:      d.Title,
		Image:      d.Image,
		Price:      domain.ToMinorUnits(d.Price),
		TotalStock: d.TotalStock,
	}
	if d.SalePrice != nil && *d.SalePrice > 0 {
		sale := domain.ToMinorUnits(*d.SalePrice)
		p.SalePrice = &sale
	}
	return p
}
