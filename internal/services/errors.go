package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies order placement failures. Callers switch on it to map
// a failure to a response; every placement error has exactly one kind.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidOrder
	KindProductNotFound
	KindOutOfStock
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidOrder:
		return "INVALID_ORDER"
	case KindProductNotFound:
		return "PRODUCT_NOT_FOUND"
	case KindOutOfStock:
		return "OUT_OF_STOCK"
	case KindPersistence:
		return "PERSISTENCE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// PlacementError is implemented by every error PlaceOrder returns.
type PlacementError interface {
	error
	Kind() ErrorKind
}

// KindOf returns the kind of a placement error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var pe PlacementError
	if errors.As(err, &pe) {
		return pe.Kind()
	}
	return KindUnknown
}

// InvalidOrderError reports an empty or malformed item list. It is raised
// before any storage access.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string { return "invalid order: " + e.Reason }

func (e *InvalidOrderError) Kind() ErrorKind { return KindInvalidOrder }

// ProductNotFoundError lists every requested product id that does not exist.
type ProductNotFoundError struct {
	IDs []uint
}

func (e *ProductNotFoundError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = fmt.Sprint(id)
	}
	return "products not found: " + strings.Join(ids, ", ")
}

func (e *ProductNotFoundError) Kind() ErrorKind { return KindProductNotFound }

// OutOfStockError names the first product whose reservation failed.
type OutOfStockError struct {
	ProductID uint
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d", e.ProductID)
}

func (e *OutOfStockError) Kind() ErrorKind { return KindOutOfStock }

// PersistenceError wraps a storage failure. Nothing of the attempt was kept,
// so the whole placement may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Kind() ErrorKind { return KindPersistence }

// Retryable reports whether the failed attempt may be resubmitted unchanged.
func (e *PersistenceError) Retryable() bool { return true }
