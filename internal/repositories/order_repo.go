package repositories

import (
	"context"

	"github.com/RajaSunrise/toko-order/internal/models"
)

// OrderTx is the storage surface available inside one order placement unit
// of work. Every call made through it commits or rolls back together.
type OrderTx interface {
	// FindProductsByIDs returns the products that exist among ids, ordered by
	// ascending id. Missing ids are simply absent from the result.
	FindProductsByIDs(ctx context.Context, ids []uint) ([]models.Product, error)

	// ConditionalDecrement subtracts quantity from the product's stock only if
	// stock >= quantity. It reports whether the decrement happened.
	ConditionalDecrement(ctx context.Context, productID uint, quantity int) (bool, error)

	// CreateOrder inserts the order header and its items, filling in the
	// generated ids and the creation timestamp.
	CreateOrder(ctx context.Context, order *models.Order) error
}

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	// WithinTx runs fn in a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx OrderTx) error) error

	GetAll(ctx context.Context) ([]models.Order, error)
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	GetByUserID(ctx context.Context, userID uint) ([]models.Order, error)
}
