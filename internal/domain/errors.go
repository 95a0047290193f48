package domain

import "fmt"

// ProductNotFoundError signals that no stock record exists for the product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with id [%s] not found in stock base", e.ProductID)
}

// ProductAlreadyExistsError signals an attempt to register stock twice for
// the same product.
type ProductAlreadyExistsError struct {
	ProductID string
}

func (e *ProductAlreadyExistsError) Error() string {
	return fmt.Sprintf("stock for product with id [%s] is already registered", e.ProductID)
}

// NotEnoughStockError signals a decrement larger than the remaining quantity.
type NotEnoughStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *NotEnoughStockError) Error() string {
	return fmt.Sprintf("product with id [%s] does not have enough stock: available=%d, requested=%d",
		e.ProductID, e.Available, e.Requested)
}

// UserNotFoundError signals that the downstream user service rejected the
// lookup for the given user.
type UserNotFoundError struct {
	Cause error
}

func (e *UserNotFoundError) Error() string {
	return "the sent user is not correct"
}

func (e *UserNotFoundError) Unwrap() error { return e.Cause }

// ValidationError signals malformed caller input. It is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
