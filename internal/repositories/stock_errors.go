package repositories

import "fmt"

// StockErrorCode names why a stock adjustment was refused.
type StockErrorCode string

const (
	StockErrorNotFound     StockErrorCode = "stock_product_not_found"
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
)

// StockError reports a refused stock adjustment for one product.
type StockError struct {
	Code      StockErrorCode
	ProductID string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	if e.Code == StockErrorInsufficient {
		return fmt.Sprintf("product %s: insufficient stock (available %d, requested %d)", e.ProductID, e.Available, e.Requested)
	}
	return fmt.Sprintf("product %s: not found", e.ProductID)
}

func (e *StockError) IsNotFound() bool    { return e.Code == StockErrorNotFound }
func (e *StockError) IsConflict() bool    { return e.Code == StockErrorInsufficient }
func (e *StockError) IsUnavailable() bool { return false }
