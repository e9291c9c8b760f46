package repositories

import (
	"context"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
)

// RepositoryError classifies persistence failures for services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateIfVersion replaces the stored order only while its version still
	// equals expectedVersion. A stale write returns a conflict error.
	UpdateIfVersion(ctx context.Context, order domain.Order, expectedVersion int64) error
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
}

// ProductRepository reads catalog entries and adjusts stock.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock removes qty units atomically. It fails with a StockError
	// when the product is missing or holds fewer than qty units.
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
}

// CartRepository exposes the cart operations the order workflow needs.
type CartRepository interface {
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	// Delete removes the cart. Deleting a missing cart succeeds.
	Delete(ctx context.Context, cartID string) error
	Restore(ctx context.Context, cart domain.Cart) error
}

// UserRepository reads account records.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}
