package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RajaSunrise/toko-order/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db        *gorm.DB
	isolation sql.IsolationLevel
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
// Transactions opened by WithinTx use the given isolation level;
// sql.LevelDefault leaves the choice to the database.
func NewGORMOrderRepository(db *gorm.DB, isolation sql.IsolationLevel) *GORMOrderRepository {
	return &GORMOrderRepository{
		db:        db,
		isolation: isolation,
	}
}

// WithinTx runs fn inside a database transaction.
func (r *GORMOrderRepository) WithinTx(ctx context.Context, fn func(tx OrderTx) error) error {
	var opts []*sql.TxOptions
	if r.isolation != sql.LevelDefault {
		opts = append(opts, &sql.TxOptions{Isolation: r.isolation})
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormOrderTx{db: tx})
	}, opts...)
}

// GetAll retrieves all orders with their items, newest first.
func (r *GORMOrderRepository) GetAll(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).Preload("Items").Order("id DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to get all orders: %w", err)
	}
	return orders, nil
}

// GetByID retrieves a single order with its items.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order with ID %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order by ID %d: %w", id, err)
	}
	return &order, nil
}

// GetByUserID retrieves the orders of one user, newest first.
func (r *GORMOrderRepository) GetByUserID(ctx context.Context, userID uint) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).Preload("Items").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get orders for user %d: %w", userID, err)
	}
	return orders, nil
}

type gormOrderTx struct {
	db *gorm.DB
}

// FindProductsByIDs locks the matching product rows in ascending id order.
// The lock keeps price and stock stable until the transaction ends. SQLite
// has no row locks and the dialect drops the clause; its database-level write
// lock serializes the transaction instead.
func (t *gormOrderTx) FindProductsByIDs(ctx context.Context, ids []uint) ([]models.Product, error) {
	var products []models.Product
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find products by IDs: %w", err)
	}
	return products, nil
}

func (t *gormOrderTx) ConditionalDecrement(ctx context.Context, productID uint, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("failed to decrement stock of product %d: %w", productID, ErrInvalidQuantity)
	}
	res := t.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		return false, fmt.Errorf("failed to decrement stock of product %d: %w", productID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (t *gormOrderTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := t.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}
