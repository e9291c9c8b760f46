package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

// sagaStep is one unit of the capture workflow. compensate may be nil for the
// final step since nothing runs after it.
type sagaStep struct {
	name       string
	execute    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

type sagaHooks struct {
	compensated func(ctx context.Context, step string, err error)
}

// runSaga executes steps in order. When a step fails every completed step is
// compensated in reverse order and the original error is returned.
// Compensations run on a context detached from cancellation.
func runSaga(ctx context.Context, steps []sagaStep, hooks sagaHooks) error {
	completed := make([]sagaStep, 0, len(steps))
	for _, step := range steps {
		if err := step.execute(ctx); err != nil {
			rollbackCtx := context.WithoutCancel(ctx)
			for i := len(completed) - 1; i >= 0; i-- {
				done := completed[i]
				if done.compensate == nil {
					continue
				}
				cerr := done.compensate(rollbackCtx)
				if hooks.compensated != nil {
					hooks.compensated(rollbackCtx, done.name, cerr)
				}
			}
			return err
		}
		completed = append(completed, step)
	}
	return nil
}

// inventoryAdjuster applies and reverts the stock movements of an order.
type inventoryAdjuster struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// reserve checks every line before writing anything, then decrements stock
// line by line. On failure the decrements it already applied are reverted and
// nothing is returned.
func (a *inventoryAdjuster) reserve(ctx context.Context, items []domain.OrderLineItem) ([]domain.OrderLineItem, error) {
	if err := a.precheck(ctx, items); err != nil {
		return nil, err
	}

	applied := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		if err := a.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			if rerr := a.release(context.WithoutCancel(ctx), applied); rerr != nil {
				a.logger(ctx, "orders.stock.rollback.failed", map[string]any{"productId": item.ProductID, "error": rerr.Error()})
			}
			return nil, stockError(item, err)
		}
		applied = append(applied, item)
	}
	return applied, nil
}

// precheck sums quantities per product so repeated lines are validated
// against the combined demand.
func (a *inventoryAdjuster) precheck(ctx context.Context, items []domain.OrderLineItem) error {
	demand := make(map[string]int, len(items))
	unique := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		if _, seen := demand[item.ProductID]; !seen {
			unique = append(unique, item)
		}
		demand[item.ProductID] += item.Quantity
	}

	for _, item := range unique {
		product, err := a.products.FindByID(ctx, item.ProductID)
		if err != nil {
			return stockError(item, err)
		}
		if product.TotalStock < demand[item.ProductID] {
			return fmt.Errorf("%w: not enough stock for %s (available %d, requested %d)",
				ErrOrderInsufficientStock, describeItem(item), product.TotalStock, demand[item.ProductID])
		}
	}
	return nil
}

// release returns every applied decrement. It keeps going past failures and
// reports them together.
func (a *inventoryAdjuster) release(ctx context.Context, applied []domain.OrderLineItem) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		item := applied[i]
		if err := a.products.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("restock %s: %w", item.ProductID, err))
		}
	}
	return errors.Join(errs...)
}

func stockError(item domain.OrderLineItem, err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderProductNotFound, describeItem(item))
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: not enough stock for %s", ErrOrderInsufficientStock, describeItem(item))
		}
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrOrderProductNotFound, describeItem(item))
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return err
}

func describeItem(item domain.OrderLineItem) string {
	if item.Title != "" {
		return fmt.Sprintf("%q (%s)", item.Title, item.ProductID)
	}
	return item.ProductID
}

// cartInvalidator removes the purchased cart and can put it back.
type cartInvalidator struct {
	carts repositories.CartRepository
}

// invalidate snapshots then deletes the cart. A missing cart is not an error
// and yields a nil snapshot.
func (c *cartInvalidator) invalidate(ctx context.Context, cartID string) (*domain.Cart, error) {
	if cartID == "" {
		return nil, nil
	}
	cart, err := c.carts.FindByID(ctx, cartID)
	switch {
	case err == nil:
	case isNotFound(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: load cart: %v", ErrOrderUnavailable, err)
	}
	if err := c.carts.Delete(ctx, cartID); err != nil {
		return nil, fmt.Errorf("%w: delete cart: %v", ErrOrderUnavailable, err)
	}
	return &cart, nil
}

func (c *cartInvalidator) restore(ctx context.Context, snapshot *domain.Cart) error {
	if snapshot == nil {
		return nil
	}
	return c.carts.Restore(ctx, *snapshot)
}
